// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package relay

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/metrics"
	"github.com/mreveil/mitmwatch/internal/wire"
)

// Behavior transforms the client-to-upstream line stream of one session.
// Transform maps one input line to zero or more output lines; Flush drains
// anything still buffered when the session closes. Implementations are not
// safe for concurrent use; each session owns its own Behavior.
type Behavior interface {
	// Mode identifies the behavior for logging and metrics labels.
	Mode() Mode

	// Transform consumes one line (without trailing newline) and returns the
	// lines to forward in its place. The returned slices are safe to retain;
	// the input line is not retained past the call.
	Transform(ctx context.Context, line []byte) [][]byte

	// Flush returns lines still held back when the stream ends.
	Flush() [][]byte
}

// BehaviorOptions carries the per-mode tunables. Rand, when set, seeds the
// probabilistic modes deterministically; a nil Rand gets a time-seeded one.
type BehaviorOptions struct {
	Mode          Mode
	Delay         time.Duration
	DelayMin      time.Duration
	DelayMax      time.Duration
	DropRate      float64
	ReorderWindow int
	ModifyPayload string
	Rand          *rand.Rand
}

// NewBehavior constructs the Behavior for opts.Mode. The mode set is closed;
// an unknown mode is a programming error surfaced as an error rather than a
// silent transparent fallback.
func NewBehavior(opts BehaviorOptions) (Behavior, error) {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	switch opts.Mode {
	case ModeTransparent:
		return transparentBehavior{}, nil
	case ModeModify:
		if opts.ModifyPayload == "" {
			return nil, fmt.Errorf("modify mode requires a substitution payload")
		}
		return &modifyBehavior{payload: opts.ModifyPayload}, nil
	case ModeReplay:
		return &replayBehavior{}, nil
	case ModeDelay:
		return &delayBehavior{
			fixed: opts.Delay,
			min:   opts.DelayMin,
			max:   opts.DelayMax,
			rng:   rng,
		}, nil
	case ModeDrop:
		return &dropBehavior{rate: opts.DropRate, rng: rng}, nil
	case ModeReorder:
		window := opts.ReorderWindow
		if window < 2 {
			window = 2
		}
		return &reorderBehavior{window: window, rng: rng}, nil
	default:
		return nil, fmt.Errorf("unknown relay mode %q", opts.Mode)
	}
}

// cloneLine copies a scanner-owned line so it can outlive the read loop.
func cloneLine(line []byte) []byte {
	out := make([]byte, len(line))
	copy(out, line)
	return out
}

// transparentBehavior forwards every line unchanged, byte for byte.
type transparentBehavior struct{}

func (transparentBehavior) Mode() Mode { return ModeTransparent }

func (transparentBehavior) Transform(_ context.Context, line []byte) [][]byte {
	return [][]byte{cloneLine(line)}
}

func (transparentBehavior) Flush() [][]byte { return nil }

// modifyBehavior substitutes the DATA field of every parseable message. The
// SEQ and TS fields keep their original bytes: the substitution is textual,
// not a re-encode, so the tampering is confined to the payload. Lines that
// do not parse pass through unchanged for the receiver to judge.
type modifyBehavior struct {
	payload string
}

func (*modifyBehavior) Mode() Mode { return ModeModify }

func (b *modifyBehavior) Transform(_ context.Context, line []byte) [][]byte {
	msg, err := wire.ParseMessage(string(line))
	if err != nil {
		return [][]byte{cloneLine(line)}
	}

	idx := bytes.Index(line, []byte("|DATA="))
	if idx < 0 {
		// Parse succeeded so the marker exists; guard anyway.
		return [][]byte{cloneLine(line)}
	}

	out := make([]byte, 0, idx+len("|DATA=")+len(b.payload))
	out = append(out, line[:idx+len("|DATA=")]...)
	out = append(out, b.payload...)

	logging.Info().
		Uint64("seq", msg.Seq).
		Str("original", msg.Payload).
		Str("substituted", b.payload).
		Msg("relay modified payload")
	return [][]byte{out}
}

func (*modifyBehavior) Flush() [][]byte { return nil }

// replayBehavior records the first line it forwards and thereafter forwards
// that recording in place of every later line. Against a sequence-tracking
// receiver this manifests as a stream of duplicates of the first message.
type replayBehavior struct {
	recorded []byte
}

func (*replayBehavior) Mode() Mode { return ModeReplay }

func (b *replayBehavior) Transform(_ context.Context, line []byte) [][]byte {
	if b.recorded == nil {
		b.recorded = cloneLine(line)
		return [][]byte{cloneLine(line)}
	}

	logging.Info().
		Str("suppressed", string(line)).
		Str("replayed", string(b.recorded)).
		Msg("relay replayed recorded message")
	return [][]byte{cloneLine(b.recorded)}
}

func (*replayBehavior) Flush() [][]byte { return nil }

// delayBehavior holds each line back for a fixed lag, or a uniform random
// one when a [min, max] range is configured. The sleep honors context
// cancellation so a shutdown never waits out a pending delay.
type delayBehavior struct {
	fixed time.Duration
	min   time.Duration
	max   time.Duration
	rng   *rand.Rand
}

func (*delayBehavior) Mode() Mode { return ModeDelay }

func (b *delayBehavior) lag() time.Duration {
	if b.max > b.min {
		return b.min + time.Duration(b.rng.Int63n(int64(b.max-b.min)+1))
	}
	return b.fixed
}

func (b *delayBehavior) Transform(ctx context.Context, line []byte) [][]byte {
	lag := b.lag()
	if lag > 0 {
		logging.Debug().Dur("lag", lag).Msg("relay delaying message")
		timer := time.NewTimer(lag)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		metrics.RelayDelaySeconds.Observe(lag.Seconds())
	}
	return [][]byte{cloneLine(line)}
}

func (*delayBehavior) Flush() [][]byte { return nil }

// dropBehavior discards each line with probability rate.
type dropBehavior struct {
	rate float64
	rng  *rand.Rand
}

func (*dropBehavior) Mode() Mode { return ModeDrop }

func (b *dropBehavior) Transform(_ context.Context, line []byte) [][]byte {
	if b.rng.Float64() < b.rate {
		metrics.RelayDropped.Inc()
		logging.Info().Str("line", string(line)).Msg("relay dropped message")
		return nil
	}
	return [][]byte{cloneLine(line)}
}

func (*dropBehavior) Flush() [][]byte { return nil }

// reorderBehavior accumulates lines into a window and, once the window is
// full, releases one picked at random. Whatever remains buffered when the
// session closes is flushed in arrival order so no message is lost.
type reorderBehavior struct {
	window int
	buf    [][]byte
	rng    *rand.Rand
}

func (*reorderBehavior) Mode() Mode { return ModeReorder }

func (b *reorderBehavior) Transform(_ context.Context, line []byte) [][]byte {
	b.buf = append(b.buf, cloneLine(line))
	if len(b.buf) < b.window {
		return nil
	}

	idx := b.rng.Intn(len(b.buf))
	picked := b.buf[idx]
	b.buf = append(b.buf[:idx], b.buf[idx+1:]...)

	logging.Debug().
		Int("buffered", len(b.buf)).
		Str("released", string(picked)).
		Msg("relay released reordered message")
	return [][]byte{picked}
}

func (b *reorderBehavior) Flush() [][]byte {
	out := b.buf
	b.buf = nil
	if len(out) > 0 {
		logging.Info().Int("count", len(out)).Msg("relay flushing reorder buffer")
	}
	return out
}
