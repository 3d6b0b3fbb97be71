// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tmorland/zmetad/internal/hub"
	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/pipeline"
)

// maxIngestBody bounds a single HTTP ingest payload.
const maxIngestBody = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the
	// upgrade itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

// authorized checks the shared secret from the configured header or the
// `secret` query parameter. Always true when auth is disabled.
func (s *Server) authorized(r *http.Request) bool {
	if !s.cfg.Security.AuthEnabled() {
		return true
	}
	provided := r.Header.Get(s.cfg.Security.AuthHeader)
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Security.SharedSecret)) == 1
}

// handleIngest accepts one JSON payload and runs it through the
// pipeline. Rejected payloads get a 422 with the validation detail.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if _, err := s.pipe.IngestRaw(body, "http"); err != nil {
		if errors.Is(err, pipeline.ErrRejected) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"broadcast_to": s.hub.Count(),
	})
}

// handleHealthz returns the full operational snapshot.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	authMode := "disabled"
	var authHeader any
	if s.cfg.Security.AuthEnabled() {
		authMode = "shared_secret"
		authHeader = s.cfg.Security.AuthHeader
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"clients":         s.hub.Count(),
		"metrics":         snap,
		"dedup":           s.deduper.Stats(),
		"recorder":        s.recorder.Stats(),
		"subscribers":     s.hub.Stats(),
		"rules":           s.engine.Count(),
		"auth_mode":       authMode,
		"auth_header":     authHeader,
		"allowed_origins": s.cfg.Security.CORSOrigins,
		"environment":     s.cfg.Server.Environment,
	})
}

// handleStatus is the short human-facing summary.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "zmetad running",
		"clients":            s.hub.Count(),
		"udp_received_total": snap.UDPReceivedTotal,
		"validated_total":    snap.ValidatedTotal,
		"adapted_total":      snap.AdaptedTotal,
		"alerts_total":       snap.AlertsTotal,
		"sequence":           snap.Sequence,
		"eps_10s":            snap.EPS10s,
		"adapter_counts":     snap.AdapterCounts,
		"rule_fire_counts":   s.engine.FireCounts(),
	})
}

// handleRules lists active rule names.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": s.engine.Count(),
		"rules": s.engine.Names(),
	})
}

// handleRulesReload re-reads the rules file. A parse failure keeps the
// previous rule set active and reports the error.
func (s *Server) handleRulesReload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := s.engine.Load(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"reloaded": false,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"count":    s.engine.Count(),
	})
}

// handleWS upgrades the connection and attaches it to the hub. The
// shared secret is checked before the upgrade, from the auth header or
// the `secret` query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := s.hub.Register(r.RemoteAddr)
	hub.NewClient(s.hub, sub, conn).Start()
}
