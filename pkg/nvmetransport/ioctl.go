// SPDX-License-Identifier: BSD-3-Clause

package nvmetransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/superfan-go/fanctl/internal/fanctllog"
)

// nvmeAdminCmd mirrors struct nvme_admin_cmd from <linux/nvme_ioctl.h>
// (72 bytes).
type nvmeAdminCmd struct {
	opcode      uint8
	flags       uint8
	rsvd1       uint16
	nsid        uint32
	cdw2        uint32
	cdw3        uint32
	metadata    uint64
	addr        uint64
	metadataLen uint32
	dataLen     uint32
	cdw10       uint32
	cdw11       uint32
	cdw12       uint32
	cdw13       uint32
	cdw14       uint32
	cdw15       uint32
	timeoutMs   uint32
	result      uint32
}

const (
	nvmeAdminGetLogPage = 0x02
	nvmeLogPageSmart    = 0x02
)

// nvmeIoctlAdminCmd is the ioctl number for NVME_IOCTL_ADMIN_CMD, computed
// the same way <linux/ioctl.h>'s _IOWR macro does: dir<<30 | type<<8 | nr | size<<16.
var nvmeIoctlAdminCmd = iowr('N', 0x41, unsafe.Sizeof(nvmeAdminCmd{}))

func iowr(typ byte, nr uintptr, size uintptr) uintptr {
	const iocRead, iocWrite = 2, 1
	return ((iocRead | iocWrite) << 30) | (uintptr(typ) << 8) | nr | (size << 16)
}

// nvmeSmartLog mirrors the 512-byte NVMe SMART/health information log page,
// truncated to the fields this package reports (temperature, spare,
// used percentage); the remainder of the page is skipped on read.
type nvmeSmartLog struct {
	critWarning uint8
	temperature [2]byte
	availSpare  uint8
	spareThresh uint8
	percentUsed uint8
}

// IoctlTransport talks to NVMe controllers directly via admin passthrough
// ioctls, without shelling out to nvme-cli.
type IoctlTransport struct {
	glob   string
	logger *slog.Logger
}

// IoctlOption configures an IoctlTransport.
type IoctlOption interface{ apply(*IoctlTransport) }

type ioctlOptionFunc func(*IoctlTransport)

func (f ioctlOptionFunc) apply(t *IoctlTransport) { f(t) }

// WithIoctlDeviceGlob overrides the device enumeration glob.
func WithIoctlDeviceGlob(glob string) IoctlOption {
	return ioctlOptionFunc(func(t *IoctlTransport) { t.glob = glob })
}

// WithIoctlLogger injects a structured logger.
func WithIoctlLogger(l *slog.Logger) IoctlOption {
	return ioctlOptionFunc(func(t *IoctlTransport) { t.logger = l })
}

// NewIoctlTransport builds an ioctl-backed Transport.
func NewIoctlTransport(opts ...IoctlOption) *IoctlTransport {
	t := &IoctlTransport{glob: "/dev/nvme*n*"}
	for _, o := range opts {
		o.apply(t)
	}
	t.logger = fanctllog.OrDefault(t.logger)
	return t
}

// List enumerates namespace block devices via the same glob logic as
// ShellTransport.
func (t *IoctlTransport) List(ctx context.Context) ([]string, error) {
	return NewShellTransport(WithDeviceGlob(t.glob)).List(ctx)
}

// SmartLog opens path, issues an NVME_IOCTL_ADMIN_CMD get-log-page for the
// SMART log, and renders the temperature field as the free-form text the
// SensorParser expects ("Temperature: N C").
func (t *IoctlTransport) SmartLog(_ context.Context, path string) (string, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDeviceOpen, path, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 512)
	cmd := nvmeAdminCmd{
		opcode:   nvmeAdminGetLogPage,
		nsid:     0xffffffff,
		addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		dataLen:  uint32(len(buf)),
		cdw10:    uint32(nvmeLogPageSmart) | (((uint32(len(buf)) / 4) - 1) << 16),
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), nvmeIoctlAdminCmd, uintptr(unsafe.Pointer(&cmd))); errno != 0 {
		return "", fmt.Errorf("%w: %s: %v", ErrSmartLog, path, errno)
	}

	var sl nvmeSmartLog
	sl.critWarning = buf[0]
	sl.temperature[0] = buf[1]
	sl.temperature[1] = buf[2]
	sl.availSpare = buf[3]
	sl.spareThresh = buf[4]
	sl.percentUsed = buf[5]

	kelvin := binary.LittleEndian.Uint16(sl.temperature[:])
	celsius := int(kelvin) - 273

	t.logger.Debug("read nvme smart log via ioctl", "device", path, "celsius", celsius)

	return fmt.Sprintf(
		"Critical warning: %#02x\nTemperature: %d C\nAvailable spare: %d%%\nAvailable spare threshold: %d%%\nPercentage used: %d%%\n",
		sl.critWarning, celsius, sl.availSpare, sl.spareThresh, sl.percentUsed,
	), nil
}
