// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/mreveil/mitmwatch/internal/detection"
)

// startHub runs the hub loop for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop after cancellation")
		}
	})
	return hub
}

// testClient builds a hub client that is never attached to a connection.
func testClient(buffer int) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		send: make(chan Message, buffer),
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.GetClientCount(), want)
}

func TestHubBroadcastsAlertsToAllClients(t *testing.T) {
	hub := startHub(t)

	a := testClient(4)
	b := testClient(4)
	hub.Register <- a
	hub.Register <- b
	waitForCount(t, hub, 2)

	alert := detection.Alert{Kind: detection.AlertReplay, SessionID: "s-1", Detail: "duplicate"}
	hub.BroadcastAlert(alert)

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeAlert {
				t.Errorf("message type = %q, want %q", msg.Type, MessageTypeAlert)
			}
			got, ok := msg.Data.(detection.Alert)
			if !ok {
				t.Fatalf("message data is %T, want detection.Alert", msg.Data)
			}
			if got.Kind != detection.AlertReplay {
				t.Errorf("alert kind = %q, want %q", got.Kind, detection.AlertReplay)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client never received the broadcast")
		}
	}
}

func TestHubDropsStalledClient(t *testing.T) {
	hub := startHub(t)

	stalled := testClient(0) // zero buffer, never read
	healthy := testClient(4)
	hub.Register <- stalled
	hub.Register <- healthy
	waitForCount(t, hub, 2)

	hub.BroadcastAlert(detection.Alert{Kind: detection.AlertReorder})

	// The stalled client is disconnected rather than blocking the hub.
	waitForCount(t, hub, 1)

	select {
	case msg := <-healthy.send:
		if msg.Type != MessageTypeAlert {
			t.Errorf("message type = %q, want %q", msg.Type, MessageTypeAlert)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client never received the broadcast")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)

	c := testClient(4)
	hub.Register <- c
	waitForCount(t, hub, 1)

	hub.Unregister <- c
	waitForCount(t, hub, 0)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
}
