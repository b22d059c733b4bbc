// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/mitmwatch/config.yaml",
	"/etc/mitmwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// The returned Config has been validated; in particular an unknown relay
// MODE is rejected here, before any listener opens.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variable names to koanf config paths. The
// legacy CLIENT_*/PROXY_* names from the original docker-compose deployment
// are kept alongside the current names so existing deployments keep working.
var envMappings = map[string]string{
	// Sender
	"sender_relay_host": "sender.host",
	"sender_relay_port": "sender.port",
	"sender_interval":   "sender.interval_seconds",
	"sender_payload":    "sender.payload",
	// Legacy sender names
	"client_proxy_host":       "sender.host",
	"client_proxy_port":       "sender.port",
	"client_message_interval": "sender.interval_seconds",
	"client_message_payload":  "sender.payload",

	// Relay
	"relay_listen_host":    "relay.listen_host",
	"relay_listen_port":    "relay.listen_port",
	"relay_upstream_host":  "relay.upstream_host",
	"relay_upstream_port":  "relay.upstream_port",
	"mode":                 "relay.mode",
	"relay_mode":           "relay.mode",
	"relay_delay_seconds":  "relay.delay_seconds",
	"relay_delay_min":      "relay.delay_min",
	"relay_delay_max":      "relay.delay_max",
	"relay_drop_rate":      "relay.drop_rate",
	"relay_reorder_window": "relay.reorder_window",
	"relay_modify_payload": "relay.modify_payload",
	// Legacy relay names
	"proxy_listen_host":    "relay.listen_host",
	"proxy_listen_port":    "relay.listen_port",
	"proxy_server_host":    "relay.upstream_host",
	"proxy_server_port":    "relay.upstream_port",
	"proxy_mode":           "relay.mode",
	"proxy_delay_min":      "relay.delay_min",
	"proxy_delay_max":      "relay.delay_max",
	"proxy_drop_rate":      "relay.drop_rate",
	"proxy_reorder_window": "relay.reorder_window",

	// Receiver
	"receiver_listen_host": "receiver.listen_host",
	"receiver_listen_port": "receiver.listen_port",

	// Detection
	"delay_threshold_seconds": "detection.delay_threshold_seconds",
	"sequence_window":         "detection.sequence_window",
	"alert_history":           "detection.alert_history",

	// Ops server
	"ops_enabled":           "ops.enabled",
	"ops_host":              "ops.host",
	"ops_port":              "ops.port",
	"ops_rate_limit_reqs":   "ops.rate_limit_reqs",
	"ops_rate_limit_window": "ops.rate_limit_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
// Unmapped variables are skipped so unrelated environment noise never
// pollutes the configuration.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
