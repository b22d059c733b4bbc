// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import (
	"testing"
	"time"

	"github.com/mreveil/mitmwatch/internal/wire"
)

func TestCheckDelay(t *testing.T) {
	now := time.Unix(1700000000, 0)
	nowSecs := float64(now.Unix())

	tests := []struct {
		name      string
		timestamp float64
		threshold time.Duration
		wantAlert bool
	}{
		{
			name:      "fresh message",
			timestamp: nowSecs - 1.0,
			threshold: 2 * time.Second,
			wantAlert: false,
		},
		{
			name:      "delayed past threshold",
			timestamp: nowSecs - 5.0,
			threshold: 2 * time.Second,
			wantAlert: true,
		},
		{
			name:      "exactly at threshold is not flagged",
			timestamp: nowSecs - 2.0,
			threshold: 2 * time.Second,
			wantAlert: false,
		},
		{
			name:      "future timestamp from clock skew is not a delay",
			timestamp: nowSecs + 30.0,
			threshold: 2 * time.Second,
			wantAlert: false,
		},
		{
			name:      "tighter threshold",
			timestamp: nowSecs - 1.0,
			threshold: 500 * time.Millisecond,
			wantAlert: true,
		},
		{
			name:      "zero threshold falls back to default",
			timestamp: nowSecs - 1.0,
			threshold: 0,
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := wire.Message{Seq: 1, Timestamp: tt.timestamp, Payload: "X"}
			alert := CheckDelay(msg, now, tt.threshold)

			if tt.wantAlert && alert == nil {
				t.Fatal("expected DelayAttack alert, got nil")
			}
			if !tt.wantAlert && alert != nil {
				t.Fatalf("unexpected alert: %s", alert.Detail)
			}
			if alert != nil && alert.Kind != AlertDelayAttack {
				t.Errorf("kind = %q, want %q", alert.Kind, AlertDelayAttack)
			}
		})
	}
}

func TestCheckIntegrity(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantAlert bool
	}{
		{name: "normal payload", payload: "HELLO", wantAlert: false},
		{name: "payload with spaces", payload: "hello world", wantAlert: false},
		{name: "empty payload", payload: "", wantAlert: true},
		{name: "embedded control character", payload: "HEL\x00LO", wantAlert: true},
		{name: "embedded newline", payload: "HEL\nLO", wantAlert: true},
		{name: "tab counts as control", payload: "A\tB", wantAlert: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := wire.Message{Seq: 9, Timestamp: 1, Payload: tt.payload}
			alert := CheckIntegrity(msg)

			if tt.wantAlert && alert == nil {
				t.Fatal("expected IntegrityViolation alert, got nil")
			}
			if !tt.wantAlert && alert != nil {
				t.Fatalf("unexpected alert: %s", alert.Detail)
			}
			if alert != nil && alert.Kind != AlertIntegrityViolation {
				t.Errorf("kind = %q, want %q", alert.Kind, AlertIntegrityViolation)
			}
		})
	}
}
