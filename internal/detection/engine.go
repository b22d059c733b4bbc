// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package detection implements the receiver-side anomaly detection engine:
// per-stream sequence tracking, timestamp-based delay scoring and structural
// integrity validation over the wire format, aggregated into an alert
// stream. Detection is strictly observational: a flagged message is still
// consumed, and no finding ever escalates to a crash.
package detection

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/metrics"
	"github.com/mreveil/mitmwatch/internal/wire"
)

// Broadcaster pushes alerts to live subscribers (the WebSocket hub).
type Broadcaster interface {
	BroadcastAlert(alert Alert)
}

// Options configures an Engine. Zero values fall back to the documented
// defaults.
type Options struct {
	// DelayThreshold is the DelayAttack sensitivity. Default 2s.
	DelayThreshold time.Duration

	// SequenceWindow bounds each stream's duplicate lookback. Default 1024.
	SequenceWindow int

	// AlertHistory is the capacity of the alert ring. Default 512.
	AlertHistory int

	// AlertWriter receives one "[ALERT] ..." line per finding for operator
	// visibility. Default os.Stdout.
	AlertWriter io.Writer

	// Broadcaster, when set, receives every alert for live streaming.
	Broadcaster Broadcaster
}

// Engine holds the shared collaborators of all detection streams: the
// thresholds, the alert ring, the operator output and the live broadcaster.
// Per-stream sequence state lives in Stream, owned by one session worker.
type Engine struct {
	delayThreshold time.Duration
	sequenceWindow int

	store       *Store
	alertWriter io.Writer
	broadcaster Broadcaster

	// writeMu serializes alert lines from concurrent session workers.
	writeMu sync.Mutex
}

// NewEngine creates a detection engine.
func NewEngine(opts Options) *Engine {
	if opts.DelayThreshold <= 0 {
		opts.DelayThreshold = DefaultDelayThreshold
	}
	if opts.SequenceWindow <= 0 {
		opts.SequenceWindow = DefaultSequenceWindow
	}
	if opts.AlertWriter == nil {
		opts.AlertWriter = os.Stdout
	}

	return &Engine{
		delayThreshold: opts.DelayThreshold,
		sequenceWindow: opts.SequenceWindow,
		store:          NewStore(opts.AlertHistory),
		alertWriter:    opts.AlertWriter,
		broadcaster:    opts.Broadcaster,
	}
}

// Store exposes the alert ring for the ops API.
func (e *Engine) Store() *Store {
	return e.store
}

// Stream is the per-connection detection context. It owns the session's
// SequenceTracker and must only be used from that session's worker.
type Stream struct {
	engine    *Engine
	sessionID string
	tracker   *SequenceTracker
}

// NewStream creates the detection context for one connection/session.
// Stream state is discarded when the session ends.
func (e *Engine) NewStream(sessionID string) *Stream {
	return &Stream{
		engine:    e,
		sessionID: sessionID,
		tracker:   NewSequenceTracker(e.sequenceWindow),
	}
}

// Process runs one raw line through the detection pipeline and returns the
// alerts it raised, zero or more; a single message can trigger several kinds
// at once (e.g. Reorder and DelayAttack).
//
// A line that fails the codec yields exactly one IntegrityViolation and no
// further checks, since a malformed message has no trustworthy sequence or
// timestamp. A parsed line runs the sequence tracker, then the timing
// validator, then the payload integrity check. The message is always
// logically consumed regardless of findings.
func (s *Stream) Process(rawLine string, arrival time.Time) []Alert {
	metrics.MessagesProcessed.Inc()

	msg, err := wire.ParseMessage(rawLine)
	if err != nil {
		alert := Alert{
			Kind:     AlertIntegrityViolation,
			Severity: severityFor(AlertIntegrityViolation),
			Raw:      rawLine,
			Detail:   err.Error(),
		}
		s.emit(&alert)
		return []Alert{alert}
	}

	var alerts []Alert

	if a := s.tracker.Observe(msg.Seq); a != nil {
		s.emit(a)
		alerts = append(alerts, *a)
	}

	if delta := TransitDelta(msg, arrival); delta >= 0 {
		metrics.ObservedTransitSeconds.Observe(delta)
	}
	if a := CheckDelay(msg, arrival, s.engine.delayThreshold); a != nil {
		s.emit(a)
		alerts = append(alerts, *a)
	}

	if a := CheckIntegrity(msg); a != nil {
		s.emit(a)
		alerts = append(alerts, *a)
	}

	return alerts
}

// SessionID returns the stream's session identifier.
func (s *Stream) SessionID() string {
	return s.sessionID
}

// emit stamps and fans out one alert: operator line, structured log,
// metrics, alert ring, live broadcast.
func (s *Stream) emit(alert *Alert) {
	alert.SessionID = s.sessionID
	alert.CreatedAt = time.Now()

	e := s.engine

	e.writeMu.Lock()
	fmt.Fprintln(e.alertWriter, alert.Line())
	e.writeMu.Unlock()

	logging.Warn().
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Str("session", s.sessionID).
		Str("detail", alert.Detail).
		Msg("detection alert")

	metrics.AlertsRaised.WithLabelValues(string(alert.Kind)).Inc()
	e.store.Append(*alert)

	if e.broadcaster != nil {
		e.broadcaster.BroadcastAlert(*alert)
	}
}
