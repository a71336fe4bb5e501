// SPDX-License-Identifier: BSD-3-Clause

package sensorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(name string, value float64, ts time.Time) Reading {
	v := value
	return Reading{Name: name, Value: &v, Timestamp: ts, State: Ok}
}

func TestReadingDerivedFields(t *testing.T) {
	now := time.Now()
	r := reading("CPU1 Temp", 45, now.Add(-10*time.Second))

	assert.Equal(t, 10*time.Second, r.Age(now))
	assert.True(t, r.IsValid())
	assert.False(t, r.IsCritical())

	r.State = Critical
	assert.True(t, r.IsCritical())
	assert.True(t, r.IsValid())

	r.State = NoReading
	r.Value = nil
	assert.False(t, r.IsValid())
}

func TestParseStateCanonicalization(t *testing.T) {
	assert.Equal(t, Ok, ParseState("ok"))
	assert.Equal(t, Critical, ParseState("cr"))
	assert.Equal(t, NoReading, ParseState("ns"))
	assert.Equal(t, NoReading, ParseState("anything else"))

	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "cr", Critical.String())
	assert.Equal(t, "ns", NoReading.String())
}

func TestStoreStatsRequireMinReadings(t *testing.T) {
	now := time.Now()
	s := NewStore(time.Minute, 2)

	s.Append(reading("CPU1 Temp", 45, now), now)
	_, ok := s.Stats("CPU1 Temp", now)
	assert.False(t, ok, "one reading is below min_readings=2")

	s.Append(reading("CPU1 Temp", 47, now.Add(time.Second)), now.Add(time.Second))
	st, ok := s.Stats("CPU1 Temp", now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 47.0, st.Current)
	assert.Equal(t, 45.0, st.Min)
	assert.Equal(t, 47.0, st.Max)
	assert.Equal(t, 46.0, st.Avg)
	assert.True(t, st.HasStdev)
}

func TestStoreEvictsExpiredReadings(t *testing.T) {
	t0 := time.Now()
	s := NewStore(30*time.Second, 1)

	s.Append(reading("X", 40, t0), t0)
	s.Append(reading("X", 50, t0.Add(40*time.Second)), t0.Add(40*time.Second))
	s.Append(reading("X", 52, t0.Add(45*time.Second)), t0.Add(45*time.Second))

	st, ok := s.Stats("X", t0.Add(45*time.Second))
	require.True(t, ok)
	assert.Equal(t, 52.0, st.Current)
	assert.Equal(t, 50.0, st.Min, "the expired first reading is not consulted")
}

func TestStoreCurrentIsMostRecentValidReading(t *testing.T) {
	now := time.Now()
	s := NewStore(time.Minute, 1)

	s.Append(reading("X", 48, now), now)
	s.Append(Reading{Name: "X", Timestamp: now.Add(time.Second), State: NoReading}, now.Add(time.Second))

	st, ok := s.Stats("X", now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 48.0, st.Current, "current skips the trailing invalid reading")
}

func TestStoreCurrentBypassesMinReadings(t *testing.T) {
	now := time.Now()
	s := NewStore(time.Minute, 2)

	s.Append(reading("X", 48, now), now)
	_, ok := s.Stats("X", now)
	require.False(t, ok, "one reading is below min_readings=2")

	v, ok := s.Current("X", now)
	require.True(t, ok, "a single reading is still a usable temperature")
	assert.Equal(t, 48.0, v)

	_, ok = s.Current("unknown", now)
	assert.False(t, ok)
}

func TestStoreCurrentSkipsInvalidAndExpired(t *testing.T) {
	t0 := time.Now()
	s := NewStore(30*time.Second, 1)

	s.Append(reading("X", 40, t0), t0)
	s.Append(Reading{Name: "X", Timestamp: t0.Add(time.Second), State: NoReading}, t0.Add(time.Second))

	v, ok := s.Current("X", t0.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 40.0, v, "trailing invalid reading is skipped")

	_, ok = s.Current("X", t0.Add(time.Minute))
	assert.False(t, ok, "an expired reading is not current")
}

func TestStoreStdevUndefinedForSingleReading(t *testing.T) {
	now := time.Now()
	s := NewStore(time.Minute, 1)
	s.Append(reading("X", 44, now), now)

	st, ok := s.Stats("X", now)
	require.True(t, ok)
	assert.False(t, st.HasStdev)
}

func TestStoreUnknownSensor(t *testing.T) {
	s := NewStore(time.Minute, 1)
	_, ok := s.Stats("nope", time.Now())
	assert.False(t, ok)
}

func TestStoreNames(t *testing.T) {
	now := time.Now()
	s := NewStore(time.Minute, 1)
	s.Append(reading("A", 1, now), now)
	s.Append(reading("B", 2, now), now)
	assert.ElementsMatch(t, []string{"A", "B"}, s.Names())
}
