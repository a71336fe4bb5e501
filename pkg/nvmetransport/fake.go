// SPDX-License-Identifier: BSD-3-Clause

package nvmetransport

import "context"

// FakeTransport is an in-memory Transport for tests.
type FakeTransport struct {
	Devices   []string
	SmartLogs map[string]string
	ListErr   error
	LogErr    map[string]error
}

// NewFakeTransport builds an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{SmartLogs: make(map[string]string), LogErr: make(map[string]error)}
}

// List returns the configured device list or ListErr.
func (f *FakeTransport) List(context.Context) ([]string, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Devices, nil
}

// SmartLog returns the configured canned log text for path, or an error.
func (f *FakeTransport) SmartLog(_ context.Context, path string) (string, error) {
	if err, ok := f.LogErr[path]; ok {
		return "", err
	}
	return f.SmartLogs[path], nil
}
