// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import "fmt"

// SequenceTracker tracks per-stream sequence ordering and duplication. One
// tracker exists per connection/session and is owned exclusively by that
// session's worker, so no locking is needed.
//
// The tracker is a two-state machine: before the first message it is fresh;
// the first observed sequence seeds the watermark with no alert. Afterwards:
//
//   - seq == watermark+1 advances the watermark silently.
//   - an exact duplicate of a remembered sequence raises a Replay alert.
//   - any other value (a gap above the watermark, or an unseen value at or
//     below it) raises a Reorder alert; the watermark advances to
//     max(watermark, seq) so that catch-up after a transient gap does not
//     cascade into further false alerts.
//
// The watermark never decreases: an anomalous input is recorded and flagged
// but cannot retroactively lower tracker state.
//
// The duplicate set is bounded to a sliding lookback window (ring eviction in
// observation order), since strict duplicate-set growth is unbounded over a
// long-running stream. A duplicate older than the window can therefore
// surface as Reorder instead of Replay; the anomaly is still reported.
type SequenceTracker struct {
	window    int
	started   bool
	watermark uint64

	seen  map[uint64]struct{}
	order []uint64 // eviction ring over seen, oldest at head
	head  int
}

// DefaultSequenceWindow bounds the duplicate lookback when no explicit
// window is configured.
const DefaultSequenceWindow = 1024

// NewSequenceTracker creates a tracker with the given lookback window.
func NewSequenceTracker(window int) *SequenceTracker {
	if window <= 0 {
		window = DefaultSequenceWindow
	}
	return &SequenceTracker{
		window: window,
		seen:   make(map[uint64]struct{}, window),
		order:  make([]uint64, 0, window),
	}
}

// Watermark returns the highest sequence number logically accepted so far.
// Valid only after the first observation.
func (t *SequenceTracker) Watermark() uint64 {
	return t.watermark
}

// Observe feeds the next sequence number through the state machine and
// returns a Replay or Reorder alert, or nil when the sequence is in order.
// Every observed sequence, accepted or flagged, joins the lookback window.
func (t *SequenceTracker) Observe(seq uint64) *Alert {
	defer t.remember(seq)

	if !t.started {
		t.started = true
		t.watermark = seq
		return nil
	}

	if _, dup := t.seen[seq]; dup {
		return &Alert{
			Kind:     AlertReplay,
			Severity: severityFor(AlertReplay),
			Seq:      seqRef(seq),
			Detail:   fmt.Sprintf("sequence %d already seen (watermark %d)", seq, t.watermark),
		}
	}

	if seq == t.watermark+1 {
		t.watermark = seq
		return nil
	}

	alert := &Alert{
		Kind:     AlertReorder,
		Severity: severityFor(AlertReorder),
		Seq:      seqRef(seq),
	}
	if seq > t.watermark {
		alert.Detail = fmt.Sprintf("sequence %d skips ahead of watermark %d (gap of %d)", seq, t.watermark, seq-t.watermark-1)
		t.watermark = seq
	} else {
		alert.Detail = fmt.Sprintf("sequence %d arrived behind watermark %d", seq, t.watermark)
	}
	return alert
}

// remember adds seq to the bounded duplicate window, evicting the oldest
// entry once the window is full.
func (t *SequenceTracker) remember(seq uint64) {
	if _, ok := t.seen[seq]; ok {
		return
	}
	if len(t.order) < t.window {
		t.order = append(t.order, seq)
	} else {
		delete(t.seen, t.order[t.head])
		t.order[t.head] = seq
		t.head = (t.head + 1) % t.window
	}
	t.seen[seq] = struct{}{}
}
