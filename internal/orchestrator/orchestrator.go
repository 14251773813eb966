// Package orchestrator drives one conversation turn: it cycles the
// language model against the retrieval tools, applies the deterministic
// empty-result retry policy, enforces the turn's tool budget, and emits
// the record/answer stream consumed by the presentation layer.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/logscout/logscout/internal/config"
	"github.com/logscout/logscout/internal/model"
	"github.com/logscout/logscout/internal/tools"
)

// Reason is the terminal outcome of a turn.
type Reason string

const (
	ReasonAnswered         Reason = "answered"
	ReasonIterationCap     Reason = "iteration_cap_exceeded"
	ReasonRetriesExhausted Reason = "retry_attempts_exhausted"
	ReasonFatal            Reason = "fatal_error"
)

// cancelCause is the sub-reason attached to a user-interrupted turn.
const cancelCause = "cancelled"

// TurnResult is returned for every terminated turn. History is the
// committed conversation after the turn; a cancelled turn returns the
// history exactly as it stood before the cancelled step.
type TurnResult struct {
	Answer      string
	Reason      Reason
	CancelCause string
	History     []model.Message
	ToolCalls   int
}

// Orchestrator owns the turn state machine. Provider and model selection
// are constructor inputs, never ambient state, so independent
// conversations can run against different providers in one process.
type Orchestrator struct {
	completer model.Completer
	adapter   *tools.Adapter
	cfg       config.TurnConfig
	sink      Sink
	rules     []IntentRule
	logger    *slog.Logger

	recordMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the event sink for records and answer fragments.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithIntentRules replaces the stated-intent detection rule set.
func WithIntentRules(rules []IntentRule) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New constructs an Orchestrator.
func New(completer model.Completer, adapter *tools.Adapter, cfg config.TurnConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer: completer,
		adapter:   adapter,
		cfg:       cfg,
		sink:      NoopSink{},
		rules:     DefaultIntentRules(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// toolSpecs converts the adapter's tool declarations for the model.
func toolSpecs() []model.ToolSpec {
	decls := tools.Specs()
	specs := make([]model.ToolSpec, 0, len(decls))
	for _, d := range decls {
		specs = append(specs, model.ToolSpec{
			Name:        string(d.Kind),
			Description: d.Description,
			Parameters:  []byte(d.Parameters),
		})
	}
	return specs
}

var toolKinds = map[string]tools.Kind{
	string(tools.KindEnumerate): tools.KindEnumerate,
	string(tools.KindFetch):     tools.KindFetch,
	string(tools.KindSearch):    tools.KindSearch,
}

// RunTurn executes one turn: the user question against the running
// history. It blocks until the turn terminates. Cancelling ctx aborts
// in-flight tool calls and the pending model call.
func (o *Orchestrator) RunTurn(ctx context.Context, turnID string, history []model.Message, question string) (TurnResult, error) {
	hist := slices.Clone(history)
	if len(hist) == 0 || hist[0].Role != model.RoleSystem {
		hist = append([]model.Message{{Role: model.RoleSystem, Content: systemPrompt}}, hist...)
	}
	hist = append(hist, model.Message{Role: model.RoleUser, Content: question})

	state := newRetryState(o.cfg.MaxToolIterations)
	specs := toolSpecs()
	o.sink.Emit(Event{Type: EventTurnStarted, TurnID: turnID})
	o.logger.Info("Turn started", "turn_id", turnID)

	seq := 0
	for {
		text, calls, err := o.complete(ctx, turnID, hist, specs)
		if err != nil {
			return o.finishError(turnID, hist, history, state, err)
		}

		if len(calls) == 0 {
			// A stated action with no accompanying call gets exactly one
			// corrective nudge, then the next response stands either way.
			if statesIntent(o.rules, text) {
				o.logger.Debug("Intent asserted without tool call, nudging", "turn_id", turnID)
				nudged := append(hist,
					model.Message{Role: model.RoleAssistant, Content: text},
					model.Message{Role: model.RoleSystem, Content: intentNudge},
				)
				text2, calls2, err := o.complete(ctx, turnID, nudged, specs)
				if err != nil {
					return o.finishError(turnID, nudged, history, state, err)
				}
				if len(calls2) == 0 {
					nudged = append(nudged, model.Message{Role: model.RoleAssistant, Content: text2})
					return o.finish(turnID, TurnResult{Answer: text2, Reason: ReasonAnswered, History: nudged, ToolCalls: state.totalDispatched()})
				}
				hist, text, calls = nudged, text2, calls2
			} else {
				hist = append(hist, model.Message{Role: model.RoleAssistant, Content: text})
				return o.finish(turnID, TurnResult{Answer: text, Reason: ReasonAnswered, History: hist, ToolCalls: state.totalDispatched()})
			}
		}

		// Snapshot before the step: a cancelled step must leave no trace,
		// including the assistant message that requested the calls.
		snapshot := slices.Clone(hist)
		hist = append(hist, model.Message{Role: model.RoleAssistant, Content: text, ToolCalls: calls})

		outcomes, capHit := o.executeStep(ctx, turnID, &seq, state, calls)
		if ctx.Err() != nil {
			o.sink.Emit(Event{Type: EventTurnCompleted, TurnID: turnID, Reason: ReasonFatal})
			o.logger.Info("Turn cancelled", "turn_id", turnID, "tool_calls", state.totalDispatched())
			return TurnResult{
				Reason:      ReasonFatal,
				CancelCause: cancelCause,
				History:     snapshot,
				ToolCalls:   state.totalDispatched(),
			}, ctx.Err()
		}

		exhausted := false
		for _, out := range outcomes {
			hist = append(hist, out.message)
			if out.exhausted {
				exhausted = true
			}
		}
		if exhausted {
			return o.finish(turnID, TurnResult{
				Answer:    retriesExhaustedNotice,
				Reason:    ReasonRetriesExhausted,
				History:   hist,
				ToolCalls: state.totalDispatched(),
			})
		}
		if capHit {
			return o.finish(turnID, TurnResult{
				Answer:    iterationCapNotice,
				Reason:    ReasonIterationCap,
				History:   hist,
				ToolCalls: state.totalDispatched(),
			})
		}
	}
}

// complete streams one model response, forwarding text deltas to the
// sink, and returns the full text plus any requested tool calls.
func (o *Orchestrator) complete(ctx context.Context, turnID string, hist []model.Message, specs []model.ToolSpec) (string, []model.ToolCall, error) {
	var text string
	var calls []model.ToolCall
	for chunk, err := range o.completer.Complete(ctx, hist, specs) {
		if err != nil {
			return "", nil, err
		}
		if chunk.TextDelta != "" {
			text += chunk.TextDelta
			o.sink.Emit(Event{Type: EventAnswerDelta, TurnID: turnID, TextDelta: chunk.TextDelta})
		}
		if chunk.Done() {
			calls = chunk.ToolCalls
		}
	}
	return text, calls, nil
}

func (o *Orchestrator) finish(turnID string, res TurnResult) (TurnResult, error) {
	o.sink.Emit(Event{Type: EventTurnCompleted, TurnID: turnID, Reason: res.Reason})
	o.logger.Info("Turn terminated", "turn_id", turnID, "reason", res.Reason, "tool_calls", res.ToolCalls)
	return res, nil
}

func (o *Orchestrator) finishError(turnID string, hist, original []model.Message, state *retryState, err error) (TurnResult, error) {
	res := TurnResult{Reason: ReasonFatal, History: hist, ToolCalls: state.totalDispatched()}
	if errors.Is(err, context.Canceled) {
		res.CancelCause = cancelCause
		res.History = slices.Clone(original)
	}
	if errors.Is(err, model.ErrProviderUnavailable) {
		res.Answer = "The language model provider is unreachable. Please try again shortly."
	}
	o.sink.Emit(Event{Type: EventTurnCompleted, TurnID: turnID, Reason: ReasonFatal})
	o.logger.Warn("Turn failed", "turn_id", turnID, "error", err)
	return res, err
}

// expandWindow multiplies the window duration by factor, anchored at the
// original end instant and extended backward.
func expandWindow(call tools.Call, factor float64) tools.Call {
	d := call.Window.Duration()
	call.Window.Start = call.Window.End.Add(-time.Duration(float64(d) * factor))
	return call
}
