// Package httpapi serves the operational surface: health, readiness,
// metrics, and the centurion test endpoint.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfganghq/centurion/internal/integrations"
	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/runtime"
	"github.com/wolfganghq/centurion/internal/store"
)

// ConnectionState reports how startup went: "connected", "disabled", or
// "failed" with the error type that broke it.
type ConnectionState struct {
	Mode      string
	ErrorType string
}

// Server is the HTTP surface.
type Server struct {
	db         *sql.DB
	rdb        *redis.Client
	centurions store.CenturionStore
	providers  *integrations.OpenAIResolver
	state      ConnectionState
	logger     *slog.Logger
}

func NewServer(db *sql.DB, rdb *redis.Client, centurions store.CenturionStore, providers *integrations.OpenAIResolver, state ConnectionState, logger *slog.Logger) *Server {
	return &Server{
		db:         db,
		rdb:        rdb,
		centurions: centurions,
		providers:  providers,
		state:      state,
		logger:     logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", withObservability(s.logger, "/health", s.handleHealth))
	mux.HandleFunc("GET /ready", withObservability(s.logger, "/ready", s.handleReady))
	mux.HandleFunc("POST /centurions/{id}/test", withObservability(s.logger, "/centurions/{id}/test", s.handleTest))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "centurion",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if s.db != nil {
		var one int
		if err := s.db.QueryRowContext(ctx, "select 1").Scan(&one); err != nil {
			checks["database"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "disabled"
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	status := "ready"
	code := http.StatusOK
	if !healthy || s.state.Mode == "failed" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":          status,
		"connection_mode": s.state.Mode,
		"checks":          checks,
	}
	if s.state.ErrorType != "" {
		body["connection_error_type"] = s.state.ErrorType
	}
	writeJSON(w, code, body)
}

type testRequest struct {
	Message string `json:"message"`
}

// handleTest runs one model turn against a centurion's prompt without
// touching any conversation state.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if s.centurions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "connections disabled"})
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown centurion"})
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	centurion, err := s.centurions.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown centurion"})
		return
	}
	if err != nil {
		s.logger.Error("test.centurion_load_failed", "centurion_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !centurion.IsActive {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "centurion disabled"})
		return
	}

	provider, err := s.providers.Provider(r.Context(), centurion.CompanyID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "model provider unavailable"})
		return
	}

	msgs := runtime.BuildPrompt(centurion.Prompt, memory.Context{}, nil, 1, req.Message, false)
	resp, err := provider.Chat(r.Context(), llm.ChatRequest{
		Messages:    msgs,
		Temperature: centurion.Temperature,
	})
	if err != nil {
		s.logger.Error("test.chat_failed", "centurion_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "model call failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"centurion_id": centurion.ID,
		"reply":        resp.Content,
	})
}
