// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package sender implements the well-behaved traffic source: a paced stream
// of sequenced, timestamped messages dialed into the relay. The sender is
// the ground truth of the lab; every anomaly the receiver reports was
// introduced after these messages left this package.
package sender

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/metrics"
	"github.com/mreveil/mitmwatch/internal/wire"
)

const (
	dialTimeout      = 5 * time.Second
	redialBackoff    = time.Second
	redialBackoffCap = 10 * time.Second
)

// Sender emits one message per interval over a TCP connection to the relay.
// Sequence numbers start at 1 and stay monotonic across reconnects for the
// lifetime of the process.
//
// Sender implements suture.Service.
type Sender struct {
	cfg     config.SenderConfig
	limiter *rate.Limiter
	nextSeq uint64
}

// New creates a sender from configuration.
func New(cfg config.SenderConfig) *Sender {
	return &Sender{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SenderInterval()), 1),
		nextSeq: 1,
	}
}

// String implements suture.Service naming.
func (s *Sender) String() string {
	return "sender"
}

// Serve dials the relay and streams messages until the context is canceled.
// A lost connection is redialed with backoff; the sequence counter is not
// reset, so a reconnect never manufactures duplicate sequence numbers.
func (s *Sender) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	backoff := redialBackoff

	for {
		conn, err := s.dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Str("addr", addr).Dur("retry_in", backoff).Msg("sender dial failed")
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			if backoff *= 2; backoff > redialBackoffCap {
				backoff = redialBackoffCap
			}
			continue
		}
		backoff = redialBackoff

		logging.Info().Str("addr", addr).Dur("interval", s.cfg.SenderInterval()).Msg("sender connected")
		err = s.stream(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().Err(err).Msg("sender connection lost, redialing")
	}
}

func (s *Sender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// stream writes paced messages on one connection until it fails or the
// context ends.
func (s *Sender) stream(ctx context.Context, conn net.Conn) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		msg := wire.Message{
			Seq:       s.nextSeq,
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			Payload:   s.cfg.Payload,
		}
		if _, err := conn.Write([]byte(msg.Encode() + "\n")); err != nil {
			return fmt.Errorf("write seq %d: %w", msg.Seq, err)
		}
		s.nextSeq++

		metrics.MessagesSent.Inc()
		logging.Debug().Uint64("seq", msg.Seq).Msg("sender emitted message")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
