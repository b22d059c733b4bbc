// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package config loads and validates MITMWatch configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (see the mapping table in koanf.go)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// The relay MODE is validated at load time: a process never starts in an
// undefined adversarial mode.
package config

import (
	"time"
)

// Config is the root configuration for all MITMWatch roles. A process only
// reads the sections relevant to the role it runs, but the full struct is
// always loaded and validated so misconfiguration surfaces at startup.
type Config struct {
	Sender    SenderConfig    `koanf:"sender"`
	Relay     RelayConfig     `koanf:"relay"`
	Receiver  ReceiverConfig  `koanf:"receiver"`
	Detection DetectionConfig `koanf:"detection"`
	Ops       OpsConfig       `koanf:"ops"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SenderConfig configures the message generator.
type SenderConfig struct {
	// Host and Port locate the relay the sender dials.
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"gt=0,lte=65535"`

	// IntervalSeconds is the pacing between messages.
	IntervalSeconds float64 `koanf:"interval_seconds" validate:"gt=0"`

	// Payload is the DATA field of every generated message.
	Payload string `koanf:"payload"`
}

// RelayConfig configures the adversarial relay.
type RelayConfig struct {
	ListenHost string `koanf:"listen_host" validate:"required"`
	ListenPort int    `koanf:"listen_port" validate:"gt=0,lte=65535"`

	// UpstreamHost and UpstreamPort locate the real receiver.
	UpstreamHost string `koanf:"upstream_host" validate:"required"`
	UpstreamPort int    `koanf:"upstream_port" validate:"gt=0,lte=65535"`

	// Mode selects the adversarial behavior for the lifetime of the process.
	// An unrecognized value is a fatal startup error.
	Mode string `koanf:"mode" validate:"oneof=transparent modify replay delay drop reorder"`

	// DelaySeconds is the fixed lag applied by delay mode.
	DelaySeconds float64 `koanf:"delay_seconds" validate:"gte=0"`

	// DelayMin and DelayMax, when both set, give a uniform random delay
	// range instead of the fixed DelaySeconds.
	DelayMin float64 `koanf:"delay_min" validate:"gte=0"`
	DelayMax float64 `koanf:"delay_max" validate:"gte=0"`

	// DropRate is the per-message drop probability in drop mode.
	DropRate float64 `koanf:"drop_rate" validate:"gte=0,lte=1"`

	// ReorderWindow is the buffer size of reorder mode.
	ReorderWindow int `koanf:"reorder_window" validate:"gte=2"`

	// ModifyPayload is the substitution string used by modify mode. It must
	// not contain '|'; that is checked in Validate, since '|' is the OR
	// separator inside validator tags and cannot be written there.
	ModifyPayload string `koanf:"modify_payload" validate:"required"`
}

// ReceiverConfig configures the detecting endpoint.
type ReceiverConfig struct {
	ListenHost string `koanf:"listen_host" validate:"required"`
	ListenPort int    `koanf:"listen_port" validate:"gt=0,lte=65535"`
}

// DetectionConfig holds the detection engine thresholds.
type DetectionConfig struct {
	// DelayThresholdSeconds is the DelayAttack sensitivity.
	DelayThresholdSeconds float64 `koanf:"delay_threshold_seconds" validate:"gt=0"`

	// SequenceWindow bounds the per-stream seen-sequence lookback.
	SequenceWindow int `koanf:"sequence_window" validate:"gt=0"`

	// AlertHistory is the capacity of the in-memory alert ring.
	AlertHistory int `koanf:"alert_history" validate:"gt=0"`
}

// OpsConfig configures the operational HTTP server (health, metrics,
// alert API, live alert stream).
type OpsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"gt=0,lte=65535"`

	// RateLimitReqs requests per RateLimitWindow, per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LoggingConfig holds zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Sender: SenderConfig{
			Host:            "relay",
			Port:            9000,
			IntervalSeconds: 1.0,
			Payload:         "HELLO",
		},
		Relay: RelayConfig{
			ListenHost:    "0.0.0.0",
			ListenPort:    9000,
			UpstreamHost:  "receiver",
			UpstreamPort:  9001,
			Mode:          "transparent",
			DelaySeconds:  3.0,
			DelayMin:      0,
			DelayMax:      0,
			DropRate:      0.3,
			ReorderWindow: 5,
			ModifyPayload: "TAMPERED",
		},
		Receiver: ReceiverConfig{
			ListenHost: "0.0.0.0",
			ListenPort: 9001,
		},
		Detection: DetectionConfig{
			DelayThresholdSeconds: 2.0,
			SequenceWindow:        1024,
			AlertHistory:          512,
		},
		Ops: OpsConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            9102,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// SenderInterval returns the pacing interval as a time.Duration.
func (c *SenderConfig) SenderInterval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// DelayThreshold returns the delay-attack threshold as a time.Duration.
func (c *DetectionConfig) DelayThreshold() time.Duration {
	return time.Duration(c.DelayThresholdSeconds * float64(time.Second))
}
