// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package relay

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "transparent", want: ModeTransparent},
		{input: "modify", want: ModeModify},
		{input: "replay", want: ModeReplay},
		{input: "delay", want: ModeDelay},
		{input: "drop", want: ModeDrop},
		{input: "reorder", want: ModeReorder},
		{input: "stealth", wantErr: true},
		{input: "TRANSPARENT", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newBehavior(t *testing.T, opts BehaviorOptions) Behavior {
	t.Helper()
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	b, err := NewBehavior(opts)
	require.NoError(t, err)
	return b
}

func TestTransparentBehavior(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{Mode: ModeTransparent})

	line := []byte("SEQ=1|TS=1700000000.0|DATA=HELLO")
	out := b.Transform(context.Background(), line)
	require.Len(t, out, 1)
	assert.Equal(t, string(line), string(out[0]))

	// The output does not alias the scanner's buffer.
	line[0] = 'X'
	assert.Equal(t, byte('S'), out[0][0])

	assert.Empty(t, b.Flush())
}

func TestModifyBehavior(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{Mode: ModeModify, ModifyPayload: "TAMPERED"})

	out := b.Transform(context.Background(), []byte("SEQ=7|TS=1700000000.50|DATA=HELLO"))
	require.Len(t, out, 1)
	// Only the DATA field changes; SEQ and TS keep their original bytes,
	// trailing zero included.
	assert.Equal(t, "SEQ=7|TS=1700000000.50|DATA=TAMPERED", string(out[0]))
}

func TestModifyBehaviorPassesMalformedThrough(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{Mode: ModeModify, ModifyPayload: "TAMPERED"})

	out := b.Transform(context.Background(), []byte("not a message"))
	require.Len(t, out, 1)
	assert.Equal(t, "not a message", string(out[0]))
}

func TestReplayBehavior(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{Mode: ModeReplay})
	ctx := context.Background()

	first := "SEQ=1|TS=1700000000|DATA=A"
	for i, in := range []string{first, "SEQ=2|TS=1700000001|DATA=B", "SEQ=3|TS=1700000002|DATA=C"} {
		out := b.Transform(ctx, []byte(in))
		require.Len(t, out, 1, "message %d", i)
		assert.Equal(t, first, string(out[0]), "message %d must be the recording", i)
	}
}

func TestDelayBehavior(t *testing.T) {
	lag := 30 * time.Millisecond
	b := newBehavior(t, BehaviorOptions{Mode: ModeDelay, Delay: lag})

	start := time.Now()
	out := b.Transform(context.Background(), []byte("SEQ=1|TS=1|DATA=X"))
	elapsed := time.Since(start)

	require.Len(t, out, 1)
	assert.Equal(t, "SEQ=1|TS=1|DATA=X", string(out[0]))
	assert.GreaterOrEqual(t, elapsed, lag)
}

func TestDelayBehaviorJitterRange(t *testing.T) {
	b := &delayBehavior{
		min: 10 * time.Millisecond,
		max: 20 * time.Millisecond,
		rng: rand.New(rand.NewSource(7)),
	}
	for i := 0; i < 100; i++ {
		lag := b.lag()
		assert.GreaterOrEqual(t, lag, 10*time.Millisecond)
		assert.LessOrEqual(t, lag, 20*time.Millisecond)
	}
}

func TestDelayBehaviorHonorsCancellation(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{Mode: ModeDelay, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	out := b.Transform(ctx, []byte("SEQ=1|TS=1|DATA=X"))
	assert.Nil(t, out)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDropBehavior(t *testing.T) {
	t.Run("rate zero passes everything", func(t *testing.T) {
		b := newBehavior(t, BehaviorOptions{Mode: ModeDrop, DropRate: 0})
		for i := 0; i < 50; i++ {
			assert.Len(t, b.Transform(context.Background(), []byte("SEQ=1|TS=1|DATA=X")), 1)
		}
	})

	t.Run("rate one drops everything", func(t *testing.T) {
		b := newBehavior(t, BehaviorOptions{Mode: ModeDrop, DropRate: 1})
		for i := 0; i < 50; i++ {
			assert.Empty(t, b.Transform(context.Background(), []byte("SEQ=1|TS=1|DATA=X")))
		}
	})

	t.Run("fractional rate drops roughly in proportion", func(t *testing.T) {
		b := newBehavior(t, BehaviorOptions{
			Mode:     ModeDrop,
			DropRate: 0.3,
			Rand:     rand.New(rand.NewSource(42)),
		})
		dropped := 0
		for i := 0; i < 1000; i++ {
			if len(b.Transform(context.Background(), []byte("SEQ=1|TS=1|DATA=X"))) == 0 {
				dropped++
			}
		}
		assert.InDelta(t, 300, dropped, 100)
	})
}

func TestReorderBehavior(t *testing.T) {
	b := newBehavior(t, BehaviorOptions{
		Mode:          ModeReorder,
		ReorderWindow: 3,
		Rand:          rand.New(rand.NewSource(3)),
	})
	ctx := context.Background()

	inputs := []string{
		"SEQ=1|TS=1|DATA=A",
		"SEQ=2|TS=2|DATA=B",
		"SEQ=3|TS=3|DATA=C",
		"SEQ=4|TS=4|DATA=D",
		"SEQ=5|TS=5|DATA=E",
	}

	var released []string
	for i, in := range inputs {
		out := b.Transform(ctx, []byte(in))
		if i < 2 {
			// Window not yet full: nothing leaves.
			assert.Empty(t, out, "message %d released before window filled", i)
			continue
		}
		require.Len(t, out, 1, "full window must release exactly one line")
		released = append(released, string(out[0]))
	}

	for _, line := range b.Flush() {
		released = append(released, string(line))
	}
	assert.Empty(t, b.Flush(), "second flush must be empty")

	// Nothing lost, nothing invented.
	assert.ElementsMatch(t, inputs, released)
}

func TestNewBehaviorRejectsBadOptions(t *testing.T) {
	_, err := NewBehavior(BehaviorOptions{Mode: ModeModify})
	assert.Error(t, err, "modify mode without a payload")

	_, err = NewBehavior(BehaviorOptions{Mode: Mode("stealth")})
	assert.Error(t, err, "unknown mode")
}
