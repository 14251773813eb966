// Package api provides the HTTP handlers for turns, records, and cache
// statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/logscout/logscout/internal/cache"
	"github.com/logscout/logscout/internal/orchestrator"
	"github.com/logscout/logscout/internal/records"
	"github.com/logscout/logscout/internal/stream"
)

// Handler serves the turn API. The orchestrator factory receives the
// conversation ID so different conversations can be routed to different
// providers.
type Handler struct {
	manager      *orchestrator.Manager
	orchestrator func(convID string, sink orchestrator.Sink) *orchestrator.Orchestrator
	registry     *stream.Registry
	ledger       *records.Store
	cache        *cache.Cache
	logger       *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	manager *orchestrator.Manager,
	factory func(convID string, sink orchestrator.Sink) *orchestrator.Orchestrator,
	registry *stream.Registry,
	ledger *records.Store,
	c *cache.Cache,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:      manager,
		orchestrator: factory,
		registry:     registry,
		ledger:       ledger,
		cache:        c,
		logger:       logger,
	}
}

// RegisterRoutes registers the turn API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/turns", h.StartTurn)
		r.Post("/conversations/{conversationID}/cancel", h.CancelTurn)
		r.Get("/turns/{turnID}/records", h.TurnRecords)
		r.Get("/cache/stats", h.CacheStats)
		r.Get("/healthz", h.Health)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

type turnResponse struct {
	TurnID      string              `json:"turn_id"`
	Answer      string              `json:"answer"`
	Reason      orchestrator.Reason `json:"reason"`
	CancelCause string              `json:"cancel_cause,omitempty"`
	ToolCalls   int                 `json:"tool_calls"`
}

// StartTurn runs one turn synchronously and returns the terminal result.
// Live progress is served separately over the conversation stream.
func (h *Handler) StartTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Question == "" {
		Error(w, http.StatusBadRequest, "conversation_id and question are required")
		return
	}

	sink := orchestrator.MultiSink(
		h.registry.SinkFor(req.ConversationID),
		records.NewSink(h.ledger, h.logger),
	)
	o := h.orchestrator(req.ConversationID, sink)

	turnID, res, err := h.manager.StartTurn(r.Context(), o, req.ConversationID, req.Question)
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		Error(w, http.StatusConflict, "conversation has a turn in flight")
		return
	case errors.Is(err, context.Canceled):
		JSON(w, http.StatusOK, turnResponse{
			TurnID:      turnID,
			Reason:      res.Reason,
			CancelCause: res.CancelCause,
			ToolCalls:   res.ToolCalls,
		})
		return
	case err != nil:
		h.logger.Error("Turn failed", "conversation_id", req.ConversationID, "error", err)
		JSON(w, http.StatusBadGateway, turnResponse{
			TurnID:    turnID,
			Answer:    res.Answer,
			Reason:    res.Reason,
			ToolCalls: res.ToolCalls,
		})
		return
	}

	JSON(w, http.StatusOK, turnResponse{
		TurnID:    turnID,
		Answer:    res.Answer,
		Reason:    res.Reason,
		ToolCalls: res.ToolCalls,
	})
}

// CancelTurn aborts the conversation's in-flight turn.
func (h *Handler) CancelTurn(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	if err := h.manager.CancelTurn(convID); err != nil {
		Error(w, http.StatusNotFound, "no active turn")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// TurnRecords lists the persisted tool-call records of one turn.
func (h *Handler) TurnRecords(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	recs, err := h.ledger.ListByTurn(r.Context(), turnID)
	if err != nil {
		h.logger.Error("Failed to list records", "turn_id", turnID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if recs == nil {
		recs = []*orchestrator.ToolCallRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"turn_id": turnID, "records": recs})
}

// CacheStats reports hit/miss counters and current cache size.
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.cache.Stats())
}

// Health reports process liveness and ledger connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
