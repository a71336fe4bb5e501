// SPDX-License-Identifier: BSD-3-Clause

package sensorstore

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// nvmePrefix is the name prefix SensorParser gives synthesized NVMe
// readings, used to dispatch Stats/Names lookups to the right store.
const nvmePrefix = "NVMe_"

// CompilePattern compiles a glob pattern (`*`, `?`) into a case-insensitive
// regular expression anchored at neither end, giving substring-search
// semantics.
func CompilePattern(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return regexp.Compile(b.String())
}

// Fetcher retrieves a batch of readings from one source (IPMI or NVMe).
type Fetcher func(ctx context.Context) ([]Reading, error)

// CombinedSensorReader merges an IPMI SensorStore and an NVMe SensorStore
// behind one name space.
type CombinedSensorReader struct {
	ipmi     *Store
	nvme     *Store
	patterns []*regexp.Regexp

	fetchIPMI Fetcher
	fetchNVMe Fetcher

	lastUpdate time.Time
	hadUpdate  bool
}

// Config parameterizes CombinedSensorReader construction.
type Config struct {
	ReadingTimeout time.Duration
	MinReadings    int
	// Patterns, if non-empty, restricts which sensor names Update will
	// store; sensors with no matching pattern are dropped at the door.
	Patterns  []string
	FetchIPMI Fetcher
	FetchNVMe Fetcher
}

// New builds a CombinedSensorReader from cfg.
func New(cfg Config) (*CombinedSensorReader, error) {
	r := &CombinedSensorReader{
		ipmi:      NewStore(cfg.ReadingTimeout, cfg.MinReadings),
		nvme:      NewStore(cfg.ReadingTimeout, cfg.MinReadings),
		fetchIPMI: cfg.FetchIPMI,
		fetchNVMe: cfg.FetchNVMe,
	}
	for _, g := range cfg.Patterns {
		re, err := CompilePattern(g)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *CombinedSensorReader) matches(name string) bool {
	if len(r.patterns) == 0 {
		return true
	}
	for _, re := range r.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Update fetches a fresh batch from both sources and appends every
// pattern-matching reading to the corresponding store.
func (r *CombinedSensorReader) Update(ctx context.Context, now time.Time) error {
	if r.fetchIPMI != nil {
		readings, err := r.fetchIPMI(ctx)
		if err != nil {
			return err
		}
		for _, rd := range readings {
			if r.matches(rd.Name) {
				r.ipmi.Append(rd, now)
			}
		}
	}
	if r.fetchNVMe != nil {
		readings, err := r.fetchNVMe(ctx)
		if err != nil {
			return err
		}
		for _, rd := range readings {
			if r.matches(rd.Name) {
				r.nvme.Append(rd, now)
			}
		}
	}
	r.lastUpdate = now
	r.hadUpdate = true
	return nil
}

// LastUpdate returns the timestamp of the most recent successful Update,
// and false if Update has never succeeded. SafetyMonitor's watchdog check
// consults this.
func (r *CombinedSensorReader) LastUpdate() (time.Time, bool) {
	return r.lastUpdate, r.hadUpdate
}

// Stats dispatches to the NVMe store when name carries the "NVMe_" prefix,
// otherwise to the IPMI store.
func (r *CombinedSensorReader) Stats(name string, now time.Time) (Stats, bool) {
	if strings.HasPrefix(name, nvmePrefix) {
		return r.nvme.Stats(name, now)
	}
	return r.ipmi.Stats(name, now)
}

// Current returns the named sensor's most recent valid reading, dispatched
// by prefix the same way as Stats but without the min-readings gate.
func (r *CombinedSensorReader) Current(name string, now time.Time) (float64, bool) {
	if strings.HasPrefix(name, nvmePrefix) {
		return r.nvme.Current(name, now)
	}
	return r.ipmi.Current(name, now)
}

// Names returns the union of names known to both stores.
func (r *CombinedSensorReader) Names() []string {
	seen := make(map[string]struct{})
	for _, n := range r.ipmi.Names() {
		seen[n] = struct{}{}
	}
	for _, n := range r.nvme.Names() {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// AllTemperatures returns the latest valid value of every sensor across
// both stores, keyed by name. A single sample qualifies: the safety
// monitor's no-signal check asks whether any numeric temperature exists at
// all, so this deliberately skips the min-readings gate.
func (r *CombinedSensorReader) AllTemperatures(now time.Time) map[string]float64 {
	out := make(map[string]float64)
	for _, n := range r.Names() {
		if v, ok := r.Current(n, now); ok {
			out[n] = v
		}
	}
	return out
}

// MatchNames returns every known sensor name matching glob (compiled with
// CompilePattern), independent of the reader's own construction-time
// pattern filter. ZoneBinder and SafetyMonitor use this for per-zone glob
// matching.
func (r *CombinedSensorReader) MatchNames(glob string) ([]string, error) {
	re, err := CompilePattern(glob)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range r.Names() {
		if re.MatchString(n) {
			out = append(out, n)
		}
	}
	return out, nil
}
