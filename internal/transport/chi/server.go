// Package chi exposes the query pipeline over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	healthuc "github.com/coverquery/coverquery/internal/usecase/health"
	syncuc "github.com/coverquery/coverquery/internal/usecase/sync"
)

// Error response codes.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeGenerationFailed = "generation_failed"
	codeProviderError    = "embedding_provider_error"
	codeInternalError    = "internal_error"
)

// answerer runs the query pipeline.
type answerer interface {
	Answer(ctx context.Context, sessionID, query string) (domain.RagResponse, error)
}

// synchronizer runs one corpus reconciliation pass.
type synchronizer interface {
	Sync(ctx context.Context) (syncuc.Stats, error)
}

// Server wires the HTTP handlers to the use case services.
type Server struct {
	rag    answerer
	sync   synchronizer
	health *healthuc.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(rag answerer, sync synchronizer, health *healthuc.Service, logger *zap.Logger) *Server {
	return &Server{rag: rag, sync: sync, health: health, logger: logger}
}

// Routes registers all handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/chat", s.Chat)
	r.Post("/api/sync", s.TriggerSync)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// ChatRequest is the POST /api/chat payload.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Chat handles POST /api/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "query is required")
		return
	}

	resp, err := s.rag.Answer(r.Context(), req.SessionID, req.Query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SyncResponse is the POST /api/sync payload.
type SyncResponse struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// TriggerSync handles POST /api/sync: a manual corpus reconciliation pass.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sync.Sync(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Added:     stats.Added,
		Updated:   stats.Updated,
		Unchanged: stats.Unchanged,
		Removed:   stats.Removed,
		Failed:    stats.Failed,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidDocument,
		domain.ErrGenerationFailed,
		domain.ErrEmbeddingProviderError,
		domain.ErrDimensionMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)

	switch {
	case errors.Is(err, domain.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
	case errors.Is(err, domain.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, codeGenerationFailed, msg)
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		writeError(w, http.StatusBadGateway, codeProviderError, msg)
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
