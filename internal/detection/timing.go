// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import (
	"fmt"
	"time"

	"github.com/mreveil/mitmwatch/internal/wire"
)

// DefaultDelayThreshold is the delay-attack sensitivity when no explicit
// threshold is configured.
const DefaultDelayThreshold = 2 * time.Second

// TransitDelta returns the sender-timestamp to arrival delta in seconds.
// Negative values mean the sender clock is ahead of the receiver clock.
func TransitDelta(msg wire.Message, arrival time.Time) float64 {
	return float64(arrival.UnixNano())/float64(time.Second) - msg.Timestamp
}

// CheckDelay is a pure function of the message timestamp and arrival time.
// It returns a DelayAttack alert when the transit delta exceeds the
// threshold. Negative deltas (clock skew producing a future timestamp) are
// never flagged.
func CheckDelay(msg wire.Message, arrival time.Time, threshold time.Duration) *Alert {
	if threshold <= 0 {
		threshold = DefaultDelayThreshold
	}

	delta := TransitDelta(msg, arrival)
	if delta <= threshold.Seconds() {
		return nil
	}

	return &Alert{
		Kind:     AlertDelayAttack,
		Severity: severityFor(AlertDelayAttack),
		Seq:      seqRef(msg.Seq),
		Detail:   fmt.Sprintf("message delayed %.3fs (threshold %.1fs)", delta, threshold.Seconds()),
	}
}
