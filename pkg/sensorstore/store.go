// SPDX-License-Identifier: BSD-3-Clause

package sensorstore

import (
	"sync"
	"time"
)

// Store holds a rolling history per sensor name.
type Store struct {
	mu             sync.Mutex
	histories      map[string]*History
	readingTimeout time.Duration
	minReadings    int
}

// NewStore builds an empty Store with the given eviction timeout and
// minimum-valid-readings threshold for Stats.
func NewStore(readingTimeout time.Duration, minReadings int) *Store {
	return &Store{
		histories:      make(map[string]*History),
		readingTimeout: readingTimeout,
		minReadings:    minReadings,
	}
}

// Append records r under its sensor name, evicting expired entries.
func (s *Store) Append(r Reading, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[r.Name]
	if !ok {
		h = newHistory(s.readingTimeout)
		s.histories[r.Name] = h
	}
	h.Append(r, now)
}

// Stats returns the named sensor's statistics, or (Stats{}, false) if the
// sensor is unknown or has too few valid readings.
func (s *Store) Stats(name string, now time.Time) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[name]
	if !ok {
		return Stats{}, false
	}
	return h.Stats(now, s.minReadings)
}

// Current returns the named sensor's most recent valid reading, without
// the min-readings gate Stats applies.
func (s *Store) Current(name string, now time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[name]
	if !ok {
		return 0, false
	}
	return h.Current(now)
}

// Names returns every sensor name this store has ever seen an append for
// (including names whose entries have since fully expired).
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.histories))
	for name := range s.histories {
		names = append(names, name)
	}
	return names
}
