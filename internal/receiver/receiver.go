// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package receiver implements the detecting endpoint: a TCP listener that
// consumes newline-framed messages and runs every line through the detection
// engine. Each connection is an independent detection stream; one session's
// anomalies never bleed into another's.
package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/detection"
	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/metrics"
)

// Receiver accepts sender sessions and feeds their lines to the detection
// engine. Detection is observational only: flagged messages are consumed
// like any other, and no finding ever terminates a session.
//
// Receiver implements suture.Service.
type Receiver struct {
	cfg    config.ReceiverConfig
	engine *detection.Engine

	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a receiver bound to the given detection engine.
func New(cfg config.ReceiverConfig, engine *detection.Engine) *Receiver {
	return &Receiver{
		cfg:    cfg,
		engine: engine,
		ready:  make(chan struct{}),
	}
}

// String implements suture.Service naming.
func (r *Receiver) String() string {
	return "receiver"
}

// Addr blocks until the listen attempt resolves and returns the bound
// address, or "" when binding failed.
func (r *Receiver) Addr() string {
	<-r.ready
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Serve binds the listen address and accepts sessions until the context is
// canceled. A session disconnect terminates only that session's worker; the
// accept loop keeps running.
func (r *Receiver) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(r.cfg.ListenHost, fmt.Sprintf("%d", r.cfg.ListenPort))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		// Release Addr() waiters even though there is nothing to report.
		r.readyOnce.Do(func() { close(r.ready) })
		return fmt.Errorf("receiver listen on %s: %w", addr, err)
	}

	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })

	logging.Info().Str("listen", listener.Addr().String()).Msg("receiver listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receiver accept: %w", err)
		}
		go r.handleSession(conn)
	}
}

// handleSession consumes one connection's line stream through a fresh
// detection stream. Stream state dies with the session.
func (r *Receiver) handleSession(conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.NewString()
	stream := r.engine.NewStream(sessionID)
	log := logging.With().
		Str("session", sessionID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	metrics.ReceiverActiveSessions.Inc()
	defer metrics.ReceiverActiveSessions.Dec()

	log.Info().Msg("receiver session established")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		stream.Process(scanner.Text(), time.Now())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("receiver session read error")
	}

	log.Info().Msg("receiver session closed")
}
