// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import "sync"

// Store keeps a bounded in-memory ring of the most recent alerts for the
// ops API. Detection history is deliberately not persisted across restarts:
// the simulation is single-session and in-memory.
type Store struct {
	mu   sync.RWMutex
	buf  []Alert
	next int
	full bool
}

// DefaultAlertHistory is the ring capacity when none is configured.
const DefaultAlertHistory = 512

// NewStore creates an alert ring with the given capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultAlertHistory
	}
	return &Store{buf: make([]Alert, capacity)}
}

// Append records an alert, evicting the oldest entry once full.
func (s *Store) Append(alert Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.next] = alert
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
}

// Len returns the number of alerts currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.full {
		return len(s.buf)
	}
	return s.next
}

// Recent returns up to limit alerts, newest first. A non-positive limit
// returns everything held.
func (s *Store) Recent(limit int) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = len(s.buf)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]Alert, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out
}
