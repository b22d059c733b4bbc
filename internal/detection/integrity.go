// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import (
	"fmt"
	"unicode"

	"github.com/mreveil/mitmwatch/internal/wire"
)

// CheckIntegrity validates payload-level expectations on a message that
// already passed the codec. The codec guarantees the field grammar; this
// check additionally rejects payloads that carry no data or embed control
// characters. Grammar failures themselves are surfaced by the engine as
// IntegrityViolation alerts built from the raw line.
func CheckIntegrity(msg wire.Message) *Alert {
	if msg.Payload == "" {
		return &Alert{
			Kind:     AlertIntegrityViolation,
			Severity: severityFor(AlertIntegrityViolation),
			Seq:      seqRef(msg.Seq),
			Detail:   "empty payload",
		}
	}

	for i, r := range msg.Payload {
		if unicode.IsControl(r) {
			return &Alert{
				Kind:     AlertIntegrityViolation,
				Severity: severityFor(AlertIntegrityViolation),
				Seq:      seqRef(msg.Seq),
				Detail:   fmt.Sprintf("payload contains control character %q at offset %d", r, i),
			}
		}
	}

	return nil
}
