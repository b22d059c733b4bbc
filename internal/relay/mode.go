// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package relay implements the interposed adversarial relay: a TCP proxy
// between sender and receiver that transforms, withholds, delays or reorders
// traffic according to a single mode fixed for the lifetime of the process.
package relay

import "fmt"

// Mode is the closed set of adversarial behaviors. The set is fixed and
// exhaustive; dispatch happens once at construction, not per message.
type Mode string

const (
	// ModeTransparent forwards traffic unchanged.
	ModeTransparent Mode = "transparent"

	// ModeModify substitutes the DATA field of every message, leaving the
	// SEQ and TS bytes untouched.
	ModeModify Mode = "modify"

	// ModeReplay records the first forwarded message and forwards it in
	// place of every later one.
	ModeReplay Mode = "replay"

	// ModeDelay suspends each message for a configured lag before
	// forwarding it unchanged.
	ModeDelay Mode = "delay"

	// ModeDrop silently discards messages with a configured probability.
	ModeDrop Mode = "drop"

	// ModeReorder buffers messages into a window and emits them in a
	// shuffled order.
	ModeReorder Mode = "reorder"
)

// ParseMode converts a configuration string into a Mode. An unrecognized
// value is an error: a relay must never start in an undefined mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTransparent, ModeModify, ModeReplay, ModeDelay, ModeDrop, ModeReorder:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown relay mode %q", s)
	}
}
