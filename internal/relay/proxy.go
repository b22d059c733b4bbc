// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/metrics"
)

const upstreamDialTimeout = 5 * time.Second

// Proxy is the adversarial relay. It accepts sender connections, opens one
// upstream connection to the receiver per session, and pipes both directions:
// client-to-upstream traffic runs line-by-line through the configured
// Behavior, upstream-to-client traffic is copied verbatim.
//
// Proxy implements suture.Service.
type Proxy struct {
	cfg  config.RelayConfig
	mode Mode
	opts BehaviorOptions

	breaker *gobreaker.CircuitBreaker[net.Conn]

	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// NewProxy builds a relay from configuration. The mode string and the
// per-mode tunables are validated here so an undefined behavior can never
// reach the accept loop.
func NewProxy(cfg config.RelayConfig) (*Proxy, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	opts := BehaviorOptions{
		Mode:          mode,
		Delay:         secondsToDuration(cfg.DelaySeconds),
		DelayMin:      secondsToDuration(cfg.DelayMin),
		DelayMax:      secondsToDuration(cfg.DelayMax),
		DropRate:      cfg.DropRate,
		ReorderWindow: cfg.ReorderWindow,
		ModifyPayload: cfg.ModifyPayload,
	}
	if _, err := NewBehavior(opts); err != nil {
		return nil, fmt.Errorf("relay behavior: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[net.Conn](gobreaker.Settings{
		Name:    "relay-upstream",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state change")
		},
	})

	return &Proxy{
		cfg:     cfg,
		mode:    mode,
		opts:    opts,
		breaker: breaker,
		ready:   make(chan struct{}),
	}, nil
}

// String implements suture.Service naming.
func (p *Proxy) String() string {
	return fmt.Sprintf("relay-proxy[%s]", p.mode)
}

// Addr blocks until the listen attempt resolves and returns the bound
// address, or "" when binding failed. Useful when listening on an ephemeral
// port.
func (p *Proxy) Addr() string {
	<-p.ready
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Serve binds the listen address and accepts sessions until the context is
// canceled. Each accepted connection gets its own goroutine, its own
// Behavior instance and its own upstream connection.
func (p *Proxy) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(p.cfg.ListenHost, fmt.Sprintf("%d", p.cfg.ListenPort))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		// Release Addr() waiters even though there is nothing to report.
		p.readyOnce.Do(func() { close(p.ready) })
		return fmt.Errorf("relay listen on %s: %w", addr, err)
	}

	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })

	logging.Info().
		Str("listen", listener.Addr().String()).
		Str("upstream", p.upstreamAddr()).
		Str("mode", string(p.mode)).
		Msg("relay listening")

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
			return fmt.Errorf("relay accept: %w", err)
		}
		go p.handleSession(ctx, conn)
	}
}

func (p *Proxy) upstreamAddr() string {
	return net.JoinHostPort(p.cfg.UpstreamHost, fmt.Sprintf("%d", p.cfg.UpstreamPort))
}

// handleSession pipes one sender connection through the relay. The session
// ends when either side closes; both connections are then torn down so the
// opposite pipe direction unblocks.
func (p *Proxy) handleSession(ctx context.Context, client net.Conn) {
	sessionID := uuid.NewString()
	log := logging.With().
		Str("session", sessionID).
		Str("client", client.RemoteAddr().String()).
		Logger()

	metrics.RelayActiveSessions.Inc()
	defer metrics.RelayActiveSessions.Dec()

	upstream, err := p.breaker.Execute(func() (net.Conn, error) {
		dialer := net.Dialer{Timeout: upstreamDialTimeout}
		return dialer.DialContext(ctx, "tcp", p.upstreamAddr())
	})
	if err != nil {
		metrics.RelayUpstreamDialErrors.Inc()
		log.Warn().Err(err).Str("upstream", p.upstreamAddr()).Msg("upstream dial failed")
		client.Close()
		return
	}

	behavior, err := NewBehavior(p.opts)
	if err != nil {
		// Options were validated at construction.
		log.Error().Err(err).Msg("behavior construction failed")
		client.Close()
		upstream.Close()
		return
	}

	log.Info().Str("mode", string(p.mode)).Msg("relay session established")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p.pipeUpstream(ctx, log, behavior, client, upstream)
		client.Close()
		upstream.Close()
	}()

	go func() {
		defer wg.Done()
		p.pipeDownstream(log, client, upstream)
		client.Close()
		upstream.Close()
	}()

	wg.Wait()
	log.Info().Msg("relay session closed")
}

// pipeUpstream reads client lines, runs each through the behavior and writes
// the resulting lines upstream. When the client side ends, the behavior's
// buffered remainder is flushed so delay and reorder modes lose nothing.
func (p *Proxy) pipeUpstream(ctx context.Context, log zerolog.Logger, behavior Behavior, client, upstream net.Conn) {
	writer := bufio.NewWriter(upstream)
	scanner := bufio.NewScanner(client)

	writeLines := func(lines [][]byte) bool {
		for _, line := range lines {
			if _, err := writer.Write(line); err != nil {
				log.Debug().Err(err).Msg("upstream write failed")
				return false
			}
			if err := writer.WriteByte('\n'); err != nil {
				log.Debug().Err(err).Msg("upstream write failed")
				return false
			}
			metrics.RelayForwarded.WithLabelValues(string(p.mode), "upstream").Inc()
		}
		return writer.Flush() == nil
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !writeLines(behavior.Transform(ctx, scanner.Bytes())) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("client read ended")
	}

	writeLines(behavior.Flush())
}

// pipeDownstream copies receiver-to-sender traffic verbatim, counting
// newline-terminated lines for the forwarded metric.
func (p *Proxy) pipeDownstream(log zerolog.Logger, client, upstream net.Conn) {
	counter := &lineCountWriter{dst: client}
	if _, err := io.Copy(counter, upstream); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("downstream copy ended")
	}
	metrics.RelayForwarded.WithLabelValues(string(p.mode), "downstream").Add(float64(counter.lines))
}

// lineCountWriter counts newline-terminated lines passing through a verbatim
// copy.
type lineCountWriter struct {
	dst   io.Writer
	lines int
}

func (w *lineCountWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			w.lines++
		}
	}
	return w.dst.Write(p)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
