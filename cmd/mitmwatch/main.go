// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package main is the entry point for the MITMWatch binary.
//
// MITMWatch is a three-party lab for studying man-in-the-middle traffic
// manipulation and its detection. One binary carries all roles:
//
//	mitmwatch sender     # paced message source, dials the relay
//	mitmwatch relay      # adversarial TCP proxy between sender and receiver
//	mitmwatch receiver   # detecting endpoint running the anomaly engine
//	mitmwatch all        # all three roles in one process, wired over loopback
//
// Each role is supervised by a suture tree and exposes an operational HTTP
// server with health, Prometheus metrics and, on the receiver, the alert
// history API and a live alert WebSocket.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
// The relay MODE environment variable selects the adversarial behavior:
// transparent, modify, replay, delay, drop or reorder. An unknown mode is a
// fatal startup error.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/mreveil/mitmwatch/internal/api"
	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/detection"
	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/receiver"
	"github.com/mreveil/mitmwatch/internal/relay"
	"github.com/mreveil/mitmwatch/internal/sender"
	"github.com/mreveil/mitmwatch/internal/supervisor"
	"github.com/mreveil/mitmwatch/internal/supervisor/services"
	"github.com/mreveil/mitmwatch/internal/websocket"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mitmwatch: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mitmwatch",
		Short:         "MITM traffic simulation and anomaly detection lab",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRoleCmd("sender", "Run the paced message source", wireSender),
		newRoleCmd("relay", "Run the adversarial relay", wireRelay),
		newRoleCmd("receiver", "Run the detecting endpoint", wireReceiver),
		newRoleCmd("all", "Run sender, relay and receiver in one process", wireAll),
	)
	return root
}

// wireFunc adds one role's services to the supervision tree.
type wireFunc func(cfg *config.Config, tree *supervisor.Tree) error

func newRoleCmd(role, short string, wire wireFunc) *cobra.Command {
	return &cobra.Command{
		Use:   role,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRole(role, wire)
		},
	}
}

// runRole loads configuration, wires the role's services into a supervision
// tree and serves until SIGINT/SIGTERM.
func runRole(role string, wire wireFunc) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("role", role).Str("version", version).Msg("mitmwatch starting")

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err := wire(cfg, tree); err != nil {
		logging.Error().Err(err).Str("role", role).Msg("failed to wire services")
		return fmt.Errorf("wire %s services: %w", role, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}
	logging.Info().Str("role", role).Msg("mitmwatch stopped")
	return nil
}

func wireSender(cfg *config.Config, tree *supervisor.Tree) error {
	tree.AddTrafficService(sender.New(cfg.Sender))
	addOpsServer(cfg, tree, nil, nil)
	return nil
}

func wireRelay(cfg *config.Config, tree *supervisor.Tree) error {
	proxy, err := relay.NewProxy(cfg.Relay)
	if err != nil {
		return err
	}
	tree.AddTrafficService(proxy)
	addOpsServer(cfg, tree, nil, nil)
	return nil
}

func wireReceiver(cfg *config.Config, tree *supervisor.Tree) error {
	hub := websocket.NewHub()
	tree.AddMessagingService(services.NewWebSocketHubService(hub))

	engine := detection.NewEngine(detection.Options{
		DelayThreshold: cfg.Detection.DelayThreshold(),
		SequenceWindow: cfg.Detection.SequenceWindow,
		AlertHistory:   cfg.Detection.AlertHistory,
		Broadcaster:    hub,
	})
	tree.AddTrafficService(receiver.New(cfg.Receiver, engine))
	addOpsServer(cfg, tree, engine, hub)
	return nil
}

// wireAll runs the full pipeline in one process: receiver, relay and sender
// talk over the configured addresses, typically loopback.
func wireAll(cfg *config.Config, tree *supervisor.Tree) error {
	hub := websocket.NewHub()
	tree.AddMessagingService(services.NewWebSocketHubService(hub))

	engine := detection.NewEngine(detection.Options{
		DelayThreshold: cfg.Detection.DelayThreshold(),
		SequenceWindow: cfg.Detection.SequenceWindow,
		AlertHistory:   cfg.Detection.AlertHistory,
		Broadcaster:    hub,
	})
	tree.AddTrafficService(receiver.New(cfg.Receiver, engine))

	proxy, err := relay.NewProxy(cfg.Relay)
	if err != nil {
		return err
	}
	tree.AddTrafficService(proxy)
	tree.AddTrafficService(sender.New(cfg.Sender))

	addOpsServer(cfg, tree, engine, hub)
	return nil
}

func addOpsServer(cfg *config.Config, tree *supervisor.Tree, engine *detection.Engine, hub *websocket.Hub) {
	if !cfg.Ops.Enabled {
		return
	}

	router := api.NewRouter(cfg.Ops, engine, hub)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Ops.Host, fmt.Sprintf("%d", cfg.Ops.Port)),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddOpsService(services.NewHTTPServerService(server, 10*time.Second))
}

var _ suture.Service = (*sender.Sender)(nil)
var _ suture.Service = (*relay.Proxy)(nil)
var _ suture.Service = (*receiver.Receiver)(nil)
