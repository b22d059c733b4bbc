// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/detection"
)

func opsConfig() config.OpsConfig {
	return config.OpsConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            9102,
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(opsConfig(), nil, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(opsConfig(), nil, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mitmwatch_")
}

func TestAlertsEndpoint(t *testing.T) {
	engine := detection.NewEngine(detection.Options{AlertWriter: io.Discard})
	router := NewRouter(opsConfig(), engine, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)
	stream.Process("garbage one", now)
	stream.Process("garbage two", now)

	resp, err := http.Get(srv.URL + "/api/v1/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body alertsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Alerts, 2)
	// Newest first.
	assert.Equal(t, "garbage two", body.Alerts[0].Raw)
	assert.Equal(t, detection.AlertIntegrityViolation, body.Alerts[0].Kind)
}

func TestAlertsEndpointLimit(t *testing.T) {
	engine := detection.NewEngine(detection.Options{AlertWriter: io.Discard})
	router := NewRouter(opsConfig(), engine, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	stream := engine.NewStream("s-1")
	now := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		stream.Process("garbage", now)
	}

	resp, err := http.Get(srv.URL + "/api/v1/alerts?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body alertsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)

	bad, err := http.Get(srv.URL + "/api/v1/alerts?limit=-1")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAlertsEndpointWithoutEngine(t *testing.T) {
	router := NewRouter(opsConfig(), nil, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body alertsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Alerts)
}

func TestAlertStreamWithoutHub(t *testing.T) {
	router := NewRouter(opsConfig(), nil, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/ws/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
