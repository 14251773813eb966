// Package stream fans turn events out to WebSocket subscribers. Each
// conversation has its own subscriber set; a turn publishes through a
// sink bound to its conversation.
package stream

import (
	"log/slog"
	"sync"

	"github.com/logscout/logscout/internal/orchestrator"
)

// subscriber buffers events for one WebSocket connection. A slow
// consumer drops frames rather than stalling the turn.
type subscriber struct {
	ch chan orchestrator.Event
}

// Registry tracks live subscribers per conversation.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

// NewRegistry creates an empty subscriber registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a consumer for the conversation's events. The
// returned cancel func must be called when the consumer goes away.
func (r *Registry) Subscribe(convID string) (<-chan orchestrator.Event, func()) {
	sub := &subscriber{ch: make(chan orchestrator.Event, 256)}

	r.mu.Lock()
	if _, ok := r.subs[convID]; !ok {
		r.subs[convID] = make(map[*subscriber]struct{})
	}
	r.subs[convID][sub] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("Stream subscriber added", "conversation_id", convID)

	cancel := func() {
		r.mu.Lock()
		if set, ok := r.subs[convID]; ok {
			if _, live := set[sub]; live {
				delete(set, sub)
				close(sub.ch)
				if len(set) == 0 {
					delete(r.subs, convID)
				}
			}
		}
		r.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to the conversation's subscribers.
func (r *Registry) Publish(convID string, e orchestrator.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs[convID] {
		select {
		case sub.ch <- e:
		default:
			r.logger.Warn("Dropping stream event for slow subscriber",
				"conversation_id", convID, "event_type", e.Type)
		}
	}
}

// SubscriberCount reports live subscribers for the conversation.
func (r *Registry) SubscriberCount(convID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[convID])
}

// SinkFor binds the registry to one conversation as an orchestrator
// sink, so every turn event reaches that conversation's subscribers.
func (r *Registry) SinkFor(convID string) orchestrator.Sink {
	return &convSink{registry: r, convID: convID}
}

type convSink struct {
	registry *Registry
	convID   string
}

func (s *convSink) Emit(e orchestrator.Event) {
	s.registry.Publish(s.convID, e)
}
