// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package detection

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

// collectBroadcaster records broadcast alerts for assertions.
type collectBroadcaster struct {
	alerts []Alert
}

func (c *collectBroadcaster) BroadcastAlert(alert Alert) {
	c.alerts = append(c.alerts, alert)
}

func newTestEngine(t *testing.T) (*Engine, *bytes.Buffer, *collectBroadcaster) {
	t.Helper()
	var out bytes.Buffer
	bc := &collectBroadcaster{}
	engine := NewEngine(Options{
		DelayThreshold: 2 * time.Second,
		AlertWriter:    &out,
		Broadcaster:    bc,
	})
	return engine, &out, bc
}

func kindsOf(alerts []Alert) []AlertKind {
	out := make([]AlertKind, len(alerts))
	for i, a := range alerts {
		out[i] = a.Kind
	}
	return out
}

func TestStreamProcess_CleanTraffic(t *testing.T) {
	engine, out, _ := newTestEngine(t)
	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)

	for seq := 1; seq <= 5; seq++ {
		line := fmt.Sprintf("SEQ=%d|TS=%d|DATA=HELLO", seq, now.Unix())
		if alerts := stream.Process(line, now); len(alerts) != 0 {
			t.Fatalf("clean message %d raised %v", seq, kindsOf(alerts))
		}
	}
	if out.Len() != 0 {
		t.Errorf("clean traffic produced alert output: %q", out.String())
	}
}

func TestStreamProcess_MalformedLineStopsFurtherChecks(t *testing.T) {
	engine, out, bc := newTestEngine(t)
	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)

	// Non-numeric SEQ: exactly one IntegrityViolation, no other alert even
	// though the timestamp would also be stale.
	alerts := stream.Process("SEQ=abc|TS=1|DATA=X", now)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts %v, want exactly 1", len(alerts), kindsOf(alerts))
	}
	if alerts[0].Kind != AlertIntegrityViolation {
		t.Errorf("kind = %q, want %q", alerts[0].Kind, AlertIntegrityViolation)
	}
	if alerts[0].Raw == "" {
		t.Error("malformed alert must carry the raw line")
	}
	if !strings.HasPrefix(out.String(), "[ALERT] kind=integrity_violation") {
		t.Errorf("operator line = %q", out.String())
	}
	if len(bc.alerts) != 1 {
		t.Errorf("broadcast %d alerts, want 1", len(bc.alerts))
	}

	// The connection stays usable: the next well-formed message processes
	// normally and seeds the sequence tracker.
	line := fmt.Sprintf("SEQ=1|TS=%d|DATA=HELLO", now.Unix())
	if alerts := stream.Process(line, now); len(alerts) != 0 {
		t.Errorf("message after malformed input raised %v", kindsOf(alerts))
	}
}

func TestStreamProcess_MultipleKindsAtOnce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)

	stream.Process(fmt.Sprintf("SEQ=1|TS=%d|DATA=A", now.Unix()), now)

	// Gap plus a 5s-stale timestamp: Reorder and DelayAttack together.
	stale := fmt.Sprintf("SEQ=3|TS=%.1f|DATA=B", float64(now.Unix())-5.0)
	alerts := stream.Process(stale, now)
	if len(alerts) != 2 {
		t.Fatalf("got %v, want [reorder delay_attack]", kindsOf(alerts))
	}
	if alerts[0].Kind != AlertReorder || alerts[1].Kind != AlertDelayAttack {
		t.Errorf("got %v, want [reorder delay_attack]", kindsOf(alerts))
	}
}

func TestStreamProcess_ReplayScenario(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)

	var replays int
	for _, seq := range []int{1, 2, 2} {
		line := fmt.Sprintf("SEQ=%d|TS=%d|DATA=HELLO", seq, now.Unix())
		for _, a := range stream.Process(line, now) {
			if a.Kind == AlertReplay {
				replays++
			}
		}
	}
	if replays != 1 {
		t.Errorf("feeding 1,2,2 raised %d Replay alerts, want exactly 1", replays)
	}
}

func TestStreamProcess_AlertsLandInStore(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stream := engine.NewStream("s-9")
	now := time.Unix(1700000000, 0)

	stream.Process("garbage", now)
	stream.Process(fmt.Sprintf("SEQ=1|TS=%d|DATA=", now.Unix()), now) // empty payload

	recent := engine.Store().Recent(0)
	if len(recent) != 2 {
		t.Fatalf("store holds %d alerts, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Seq == nil || *recent[0].Seq != 1 {
		t.Errorf("newest alert seq = %v, want 1", recent[0].Seq)
	}
	for _, a := range recent {
		if a.SessionID != "s-9" {
			t.Errorf("alert session = %q, want s-9", a.SessionID)
		}
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	now := time.Unix(1700000000, 0)

	a := engine.NewStream("s-a")
	b := engine.NewStream("s-b")

	a.Process(fmt.Sprintf("SEQ=1|TS=%d|DATA=X", now.Unix()), now)
	a.Process(fmt.Sprintf("SEQ=2|TS=%d|DATA=X", now.Unix()), now)

	// Stream b starts fresh: its first sequence seeds its own watermark and
	// is not judged against stream a's state.
	if alerts := b.Process(fmt.Sprintf("SEQ=2|TS=%d|DATA=X", now.Unix()), now); len(alerts) != 0 {
		t.Errorf("fresh stream raised %v", kindsOf(alerts))
	}
}

func TestStoreRing(t *testing.T) {
	store := NewStore(3)

	for i := uint64(1); i <= 5; i++ {
		store.Append(Alert{Kind: AlertReplay, Seq: seqRef(i)})
	}

	if store.Len() != 3 {
		t.Fatalf("Len = %d, want capacity 3", store.Len())
	}
	recent := store.Recent(0)
	want := []uint64{5, 4, 3}
	for i, w := range want {
		if *recent[i].Seq != w {
			t.Errorf("Recent[%d].Seq = %d, want %d", i, *recent[i].Seq, w)
		}
	}

	if got := store.Recent(2); len(got) != 2 || *got[0].Seq != 5 {
		t.Errorf("Recent(2) = %v", kindsOf(got))
	}
}
