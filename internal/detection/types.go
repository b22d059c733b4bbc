// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import (
	"fmt"
	"strings"
	"time"
)

// AlertKind identifies the class of anomaly an alert reports.
type AlertKind string

const (
	// AlertReplay flags a sequence number that was already observed.
	AlertReplay AlertKind = "replay"

	// AlertReorder flags a sequence number arriving out of monotonic order.
	AlertReorder AlertKind = "reorder"

	// AlertDelayAttack flags excessive latency between message creation
	// and receipt.
	AlertDelayAttack AlertKind = "delay_attack"

	// AlertIntegrityViolation flags structural or content deviation from
	// the wire grammar.
	AlertIntegrityViolation AlertKind = "integrity_violation"
)

// Severity indicates the severity level of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityFor maps an alert kind to its default severity. Replayed traffic
// and malformed input indicate active tampering; latency and ordering
// anomalies can also stem from a degraded network.
func severityFor(kind AlertKind) Severity {
	switch kind {
	case AlertReplay, AlertIntegrityViolation:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Alert is a single detection finding. Alerts are immutable once emitted and
// are not persisted across process restarts.
type Alert struct {
	Kind     AlertKind `json:"kind"`
	Severity Severity  `json:"severity"`

	// SessionID identifies the stream the offending message arrived on.
	SessionID string `json:"session_id,omitempty"`

	// Seq is the offending sequence number, when the message parsed.
	Seq *uint64 `json:"seq,omitempty"`

	// Raw carries the offending line when it could not be parsed.
	Raw string `json:"raw,omitempty"`

	// Detail is a human-readable description of the finding.
	Detail string `json:"detail"`

	CreatedAt time.Time `json:"created_at"`
}

// Line renders the alert as the single operator-visible output line.
//
//	[ALERT] kind=replay seq=2 detail="sequence 2 already seen (watermark 2)"
func (a *Alert) Line() string {
	var b strings.Builder
	b.WriteString("[ALERT] kind=")
	b.WriteString(string(a.Kind))
	if a.Seq != nil {
		fmt.Fprintf(&b, " seq=%d", *a.Seq)
	}
	if a.SessionID != "" {
		b.WriteString(" session=")
		b.WriteString(a.SessionID)
	}
	fmt.Fprintf(&b, " detail=%q", a.Detail)
	return b.String()
}

// seqRef returns a pointer suitable for Alert.Seq.
func seqRef(seq uint64) *uint64 {
	return &seq
}
