// SPDX-License-Identifier: BSD-3-Clause

// Package sensorparser is a pure textual parser that tokenizes BMC SDR
// listings and NVMe SMART logs into sensorstore.Reading values. It
// performs no I/O.
package sensorparser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/superfan-go/fanctl/pkg/sensorstore"
)

var responseIDPattern = regexp.MustCompile(`Received a response with unexpected ID:\s*(\d+)`)

// ParseSDR tokenizes the output of "sdr list" into a slice of readings.
// Lines with fewer than three "|"-delimited fields are skipped. A line
// matching "Received a response with unexpected ID: N" attaches
// response ID N to the most recently emitted reading rather than producing
// a reading of its own.
func ParseSDR(text string, now time.Time) []sensorstore.Reading {
	var out []sensorstore.Reading

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		if m := responseIDPattern.FindStringSubmatch(line); m != nil {
			if len(out) > 0 {
				id, err := strconv.Atoi(m[1])
				if err == nil {
					out[len(out)-1].ResponseID = &id
				}
			}
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			continue
		}

		name := strings.TrimSpace(fields[0])
		rawValue := strings.TrimSpace(fields[1])
		rawState := strings.TrimSpace(fields[2])

		state := sensorstore.ParseState(rawState)
		value, ok := parseSDRValue(rawValue)
		if !ok {
			state = sensorstore.NoReading
		}

		r := sensorstore.Reading{
			Name:      name,
			Timestamp: now,
			State:     state,
		}
		if state != sensorstore.NoReading {
			r.Value = &value
		}
		out = append(out, r)
	}

	return out
}

var sdrUnitStrip = []string{"°", "degrees", "RPM", "C"}

// parseSDRValue extracts the numeric value from an SDR value field such as
// "45.000 degrees C", "45(318K)", "1420 RPM", "0x01", or "na".
func parseSDRValue(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "na") {
		return 0, false
	}

	if idx := strings.Index(raw, "("); idx >= 0 {
		raw = raw[:idx]
	}

	for _, unit := range sdrUnitStrip {
		raw = strings.ReplaceAll(raw, unit, "")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err := strconv.ParseInt(raw[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return float64(v), true
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var temperatureLinePattern = regexp.MustCompile(`(?i)temperature`)

// ParseSmartLog scans an "nvme smart-log" text dump for the first line that
// contains (case-insensitively) "temperature" and has a parseable value after
// its colon, and synthesizes a single reading named "NVMe_<basename(devicePath)>".
func ParseSmartLog(text, devicePath string, now time.Time) (sensorstore.Reading, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !temperatureLinePattern.MatchString(line) {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		value := line[idx+1:]
		if p := strings.Index(value, "("); p >= 0 {
			value = value[:p]
		}
		for _, unit := range sdrUnitStrip {
			value = strings.ReplaceAll(value, unit, "")
		}
		value = strings.TrimSpace(value)
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		return sensorstore.Reading{
			Name:      "NVMe_" + filepath.Base(devicePath),
			Value:     &v,
			Timestamp: now,
			State:     sensorstore.Ok,
		}, true
	}
	return sensorstore.Reading{}, false
}
