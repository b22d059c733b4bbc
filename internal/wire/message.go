// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package wire implements the line-oriented message format exchanged between
// the sender, the relay and the receiver:
//
//	SEQ=<non-negative integer>|TS=<floating-point seconds>|DATA=<string>
//
// One message per line, fields in exactly this order, '|'-delimited, no '|'
// inside DATA. Example:
//
//	SEQ=1|TS=1699999999.123|DATA=HELLO
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Field prefixes of the wire grammar.
const (
	seqPrefix  = "SEQ="
	tsPrefix   = "TS="
	dataPrefix = "DATA="
)

// fieldCount is the exact number of '|'-separated fields in a valid line.
const fieldCount = 3

// Message is a single decoded wire message. Immutable once parsed.
type Message struct {
	// Seq is the sender-assigned sequence number, starting at 1.
	Seq uint64 `json:"seq"`

	// Timestamp is the sender clock at creation, in seconds since the epoch.
	Timestamp float64 `json:"timestamp"`

	// Payload is the DATA field. It must not contain '|'.
	Payload string `json:"payload"`
}

// FormatError describes a line that does not match the wire grammar.
type FormatError struct {
	Raw    string
	Reason string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed message %q: %s", e.Raw, e.Reason)
}

// ParseMessage decodes one wire line into a Message. Trailing CR/LF is
// tolerated; any other deviation from the grammar returns a *FormatError.
func ParseMessage(raw string) (Message, error) {
	line := strings.TrimRight(raw, "\r\n")

	parts := strings.Split(line, "|")
	if len(parts) != fieldCount {
		return Message{}, &FormatError{Raw: line, Reason: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(parts))}
	}

	if !strings.HasPrefix(parts[0], seqPrefix) {
		return Message{}, &FormatError{Raw: line, Reason: "first field must be SEQ="}
	}
	if !strings.HasPrefix(parts[1], tsPrefix) {
		return Message{}, &FormatError{Raw: line, Reason: "second field must be TS="}
	}
	if !strings.HasPrefix(parts[2], dataPrefix) {
		return Message{}, &FormatError{Raw: line, Reason: "third field must be DATA="}
	}

	seq, err := strconv.ParseUint(parts[0][len(seqPrefix):], 10, 64)
	if err != nil {
		return Message{}, &FormatError{Raw: line, Reason: "SEQ is not a non-negative integer"}
	}

	ts, err := strconv.ParseFloat(parts[1][len(tsPrefix):], 64)
	if err != nil {
		return Message{}, &FormatError{Raw: line, Reason: "TS is not a number"}
	}

	return Message{
		Seq:       seq,
		Timestamp: ts,
		Payload:   parts[2][len(dataPrefix):],
	}, nil
}

// Encode serializes the message back into its wire form, without a trailing
// newline. Encode is the inverse of ParseMessage: for every valid message m,
// ParseMessage(m.Encode()) yields m again. The timestamp is rendered in the
// shortest decimal form that round-trips through ParseFloat.
func (m Message) Encode() string {
	var b strings.Builder
	b.Grow(len(seqPrefix) + len(tsPrefix) + len(dataPrefix) + len(m.Payload) + 24)
	b.WriteString(seqPrefix)
	b.WriteString(strconv.FormatUint(m.Seq, 10))
	b.WriteByte('|')
	b.WriteString(tsPrefix)
	b.WriteString(strconv.FormatFloat(m.Timestamp, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(dataPrefix)
	b.WriteString(m.Payload)
	return b.String()
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return m.Encode()
}
