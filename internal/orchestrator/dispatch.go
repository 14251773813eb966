package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/logscout/logscout/internal/model"
	"github.com/logscout/logscout/internal/tools"
)

// stepOutcome is the result of running one model-requested tool call,
// including any deterministic window-expansion retries.
type stepOutcome struct {
	message   model.Message
	exhausted bool
}

// attemptTrace is embedded in the tool message so the model can see what
// the retry policy already tried without a wasted round-trip.
type attemptTrace struct {
	Window   string `json:"window"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Events   int    `json:"events"`
	CacheHit bool   `json:"cache_hit,omitempty"`
}

type toolContent struct {
	Attempts []attemptTrace  `json:"attempts,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// executeStep dispatches every requested tool call of one model response.
// Calls run concurrently; records are created in dispatch order. The
// second return value reports that the turn's tool budget ran out.
func (o *Orchestrator) executeStep(ctx context.Context, turnID string, seq *int, state *retryState, calls []model.ToolCall) ([]stepOutcome, bool) {
	outcomes := make([]stepOutcome, len(calls))
	var capHit atomic.Bool

	var wg sync.WaitGroup
	for i, tc := range calls {
		if !state.reserve() {
			capHit.Store(true)
			outcomes[i] = stepOutcome{message: toolError(tc.ID, "tool call skipped: turn tool budget exhausted")}
			continue
		}
		// Record created before the goroutine so the stream sees records
		// in dispatch order even when completions interleave.
		rec := o.newRecord(turnID, seq, tc.Name, tc.Arguments)
		wg.Add(1)
		go func(i int, tc model.ToolCall, rec *ToolCallRecord) {
			defer wg.Done()
			out, hitCap := o.runCall(ctx, turnID, seq, state, tc, rec)
			outcomes[i] = out
			if hitCap {
				capHit.Store(true)
			}
		}(i, tc, rec)
	}
	wg.Wait()
	return outcomes, capHit.Load()
}

// runCall executes one tool call and applies the retry policy: while the
// result is empty, the window bounded, and attempts remain for the
// original failing signature, the window is expanded backward from its
// end and the call re-dispatched before control returns to the model.
func (o *Orchestrator) runCall(ctx context.Context, turnID string, seq *int, state *retryState, tc model.ToolCall, rec *ToolCallRecord) (stepOutcome, bool) {
	kind, ok := toolKinds[tc.Name]
	if !ok {
		o.closeRecord(rec, StatusFailed, "", fmt.Sprintf("unknown tool %q", tc.Name))
		return stepOutcome{message: toolError(tc.ID, fmt.Sprintf("unknown tool %q; available: enumerate_groups, fetch_events, search_events", tc.Name))}, false
	}

	call, err := o.adapter.Resolve(kind, tc.Arguments)
	if err != nil {
		o.closeRecord(rec, StatusFailed, "", err.Error())
		return stepOutcome{message: toolError(tc.ID, err.Error())}, false
	}

	o.markRunning(rec)
	res, err := o.adapter.Do(ctx, call)
	if err != nil {
		o.closeRecord(rec, StatusFailed, "", err.Error())
		if ctx.Err() != nil {
			return stepOutcome{}, false
		}
		return stepOutcome{message: toolError(tc.ID, err.Error())}, false
	}
	o.closeRecord(rec, StatusSucceeded, res.Summary(), "")

	trace := []attemptTrace{traceOf(res)}
	origSig := call.Request().Signature()
	exhaustedRetries := false
	for res.Empty() && !call.Window.IsZero() {
		if !state.countRetry(origSig, o.cfg.MaxRetryAttempts) {
			exhaustedRetries = o.cfg.MaxRetryAttempts > 0
			break
		}
		call = expandWindow(call, o.cfg.TimeExpansionFactor)
		if !state.reserve() {
			return stepOutcome{message: o.toolSuccess(tc.ID, res, trace)}, true
		}

		retryRec := o.newRecord(turnID, seq, tc.Name, retryInput(call))
		o.markRunning(retryRec)
		o.logger.Debug("Empty result, expanding window",
			"turn_id", turnID, "tool", tc.Name, "window", call.Window.Duration().String())
		res, err = o.adapter.Do(ctx, call)
		if err != nil {
			o.closeRecord(retryRec, StatusFailed, "", err.Error())
			if ctx.Err() != nil {
				return stepOutcome{}, false
			}
			return stepOutcome{message: toolError(tc.ID, err.Error())}, false
		}
		o.closeRecord(retryRec, StatusSucceeded, res.Summary(), "")
		trace = append(trace, traceOf(res))
	}

	return stepOutcome{
		message:   o.toolSuccess(tc.ID, res, trace),
		exhausted: exhaustedRetries && res.Empty(),
	}, false
}

func traceOf(res *tools.Result) attemptTrace {
	t := attemptTrace{Events: len(res.Events) + len(res.Groups), CacheHit: res.CacheHits > 0}
	if !res.Call.Window.IsZero() {
		t.Window = res.Call.Window.Duration().String()
		t.Start = res.Call.Window.Start.UTC().Format(time.RFC3339)
		t.End = res.Call.Window.End.UTC().Format(time.RFC3339)
	}
	return t
}

func retryInput(call tools.Call) string {
	input, err := json.Marshal(map[string]any{
		"group":  call.Group,
		"groups": call.Groups,
		"start":  call.Window.Start.UTC().Format(time.RFC3339),
		"end":    call.Window.End.UTC().Format(time.RFC3339),
		"filter": call.Filter,
	})
	if err != nil {
		return ""
	}
	return string(input)
}

// toolSuccess builds the role=tool history message: the sanitized result
// payload plus the attempt trace when the retry policy ran.
func (o *Orchestrator) toolSuccess(callID string, res *tools.Result, trace []attemptTrace) model.Message {
	payload, err := res.ModelPayload()
	if err != nil {
		return toolError(callID, fmt.Sprintf("failed to encode result: %v", err))
	}
	content := toolContent{Result: json.RawMessage(payload)}
	if len(trace) > 1 {
		content.Attempts = trace
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return toolError(callID, fmt.Sprintf("failed to encode result: %v", err))
	}
	return model.Message{Role: model.RoleTool, ToolCallID: callID, Content: string(encoded)}
}

func toolError(callID, cause string) model.Message {
	encoded, err := json.Marshal(toolContent{Error: cause})
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"error":%q}`, cause))
	}
	return model.Message{Role: model.RoleTool, ToolCallID: callID, Content: string(encoded)}
}

// newRecord creates, numbers, and emits a pending record. seq is guarded
// by the retry state mutex so concurrent branches never share a number.
func (o *Orchestrator) newRecord(turnID string, seq *int, toolName, input string) *ToolCallRecord {
	o.recordMu.Lock()
	*seq++
	n := *seq
	o.recordMu.Unlock()

	rec := &ToolCallRecord{
		ID:        uuid.NewString(),
		TurnID:    turnID,
		Seq:       n,
		Kind:      tools.Kind(toolName),
		Input:     input,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	o.emitRecord(rec)
	return rec
}

func (o *Orchestrator) markRunning(rec *ToolCallRecord) {
	rec.Status = StatusRunning
	o.emitRecord(rec)
}

func (o *Orchestrator) closeRecord(rec *ToolCallRecord, status RecordStatus, summary, cause string) {
	rec.Status = status
	rec.Summary = summary
	rec.Cause = cause
	rec.EndedAt = time.Now()
	o.emitRecord(rec)
}

func (o *Orchestrator) emitRecord(rec *ToolCallRecord) {
	clone := *rec
	o.sink.Emit(Event{Type: EventRecordUpdate, TurnID: rec.TurnID, Record: &clone})
}
