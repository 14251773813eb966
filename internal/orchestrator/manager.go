package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/logscout/logscout/internal/model"
)

// ErrTurnInFlight is returned when a conversation already has a running
// turn. A conversation is strictly sequential; concurrency exists only
// across conversations.
var ErrTurnInFlight = fmt.Errorf("conversation has a turn in flight")

// ErrNoActiveTurn is returned by CancelTurn when nothing is running.
var ErrNoActiveTurn = fmt.Errorf("no active turn")

type conversation struct {
	history []model.Message
	cancel  context.CancelFunc
	turnID  string
}

// Manager multiplexes conversations over orchestrators. Each
// conversation keeps its own history and at most one in-flight turn;
// distinct conversations may use distinct orchestrators, so turns in one
// process can run against different model providers.
type Manager struct {
	mu     sync.Mutex
	convs  map[string]*conversation
	logger *slog.Logger
}

// NewManager constructs an empty conversation registry.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		convs:  make(map[string]*conversation),
		logger: logger,
	}
}

// StartTurn runs one turn for the conversation, creating it on first
// use. It blocks until the turn terminates. The committed history is
// stored only for turns that finished; a cancelled turn leaves the
// conversation exactly as it was.
func (m *Manager) StartTurn(ctx context.Context, o *Orchestrator, convID, question string) (string, TurnResult, error) {
	turnID := uuid.NewString()

	m.mu.Lock()
	conv, ok := m.convs[convID]
	if !ok {
		conv = &conversation{}
		m.convs[convID] = conv
	}
	if conv.cancel != nil {
		m.mu.Unlock()
		return "", TurnResult{}, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	conv.cancel = cancel
	conv.turnID = turnID
	history := conv.history
	m.mu.Unlock()

	res, err := o.RunTurn(turnCtx, turnID, history, question)
	cancel()

	m.mu.Lock()
	conv.cancel = nil
	conv.turnID = ""
	if err == nil {
		conv.history = res.History
	}
	m.mu.Unlock()

	return turnID, res, err
}

// CancelTurn aborts the conversation's in-flight turn, if any.
func (m *Manager) CancelTurn(convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[convID]
	if !ok || conv.cancel == nil {
		return ErrNoActiveTurn
	}
	m.logger.Info("Cancelling turn", "conversation_id", convID, "turn_id", conv.turnID)
	conv.cancel()
	return nil
}

// ActiveTurn reports the conversation's running turn ID, if any.
func (m *Manager) ActiveTurn(convID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[convID]
	if !ok || conv.turnID == "" {
		return "", false
	}
	return conv.turnID, true
}

// History returns a copy of the conversation's committed history.
func (m *Manager) History(convID string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[convID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(conv.history))
	copy(out, conv.history)
	return out
}
