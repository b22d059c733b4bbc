// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package api provides the operational HTTP surface: health, Prometheus
// metrics, the alert history API and the live alert WebSocket. Every role
// runs this server; the alert endpoints are only populated on the receiver,
// where the detection engine lives.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mreveil/mitmwatch/internal/config"
	"github.com/mreveil/mitmwatch/internal/detection"
	"github.com/mreveil/mitmwatch/internal/logging"
	"github.com/mreveil/mitmwatch/internal/websocket"
)

// Router builds the ops HTTP handler. Engine and Hub are optional: roles
// without a detection engine serve health and metrics only.
type Router struct {
	cfg    config.OpsConfig
	engine *detection.Engine
	hub    *websocket.Hub
}

// NewRouter creates an ops router.
func NewRouter(cfg config.OpsConfig, engine *detection.Engine, hub *websocket.Hub) *Router {
	return &Router{cfg: cfg, engine: engine, hub: hub}
}

// Handler assembles the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))

	r.Get("/healthz", rt.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", rt.alerts)
		r.Get("/ws/alerts", rt.alertStream)
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type alertsResponse struct {
	Alerts []detection.Alert `json:"alerts"`
	Count  int               `json:"count"`
}

// alerts returns recent alerts, newest first. The optional "limit" query
// parameter caps the result; 0 or absent returns the full ring.
func (rt *Router) alerts(w http.ResponseWriter, r *http.Request) {
	if rt.engine == nil {
		writeJSON(w, http.StatusOK, alertsResponse{Alerts: []detection.Alert{}})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts := rt.engine.Store().Recent(limit)
	if alerts == nil {
		alerts = []detection.Alert{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

// alertStream upgrades to a WebSocket subscription on the alert hub.
func (rt *Router) alertStream(w http.ResponseWriter, r *http.Request) {
	if rt.hub == nil {
		http.Error(w, "alert stream not available on this role", http.StatusNotFound)
		return
	}
	websocket.ServeWS(rt.hub, w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
