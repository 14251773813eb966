package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler upgrades stream requests and forwards the
// conversation's turn events as JSON text frames.
type WebSocketHandler struct {
	registry      *Registry
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates the stream endpoint handler.
func NewWebSocketHandler(registry *Registry, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	if convID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "conversation_id", convID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "conversation_id", convID)
		}
	}()

	h.logger.Info("Stream connected", "conversation_id", convID, "ip", r.RemoteAddr)

	events, unsubscribe := h.registry.Subscribe(convID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing meaningful; the read loop only notices
	// the connection going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Stream disconnected", "conversation_id", convID)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("Failed to encode stream event", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				h.logger.Debug("Stream write failed", "error", err, "conversation_id", convID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	return origin == h.allowedOrigin
}
