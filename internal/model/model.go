// Package model defines the language-model collaborator boundary. A
// completion is consumed as a stream of chunks so answer text can be
// rendered as it arrives and the call stays cancellable mid-flight.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/containerd/errdefs"
)

// Message roles in a conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one history entry sent to or produced by the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested invocation of a named tool. Arguments is
// the raw JSON argument object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises one callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Chunk is one streamed piece of a completion. Text deltas arrive first;
// the final chunk carries any assembled tool calls and the finish reason.
type Chunk struct {
	TextDelta    string
	ToolCalls    []ToolCall
	FinishReason string
}

// Done reports whether this is the terminal chunk of a completion.
func (c *Chunk) Done() bool {
	return c.FinishReason != ""
}

// Completer produces a completion for the given history. Iteration stops
// on the first error; cancelling ctx aborts the stream.
type Completer interface {
	Complete(ctx context.Context, history []Message, tools []ToolSpec) iter.Seq2[*Chunk, error]
}

// Sentinel errors returned by Completer implementations.
var (
	// ErrProviderUnavailable indicates the provider could not be reached
	// or failed server-side. Fatal to the current turn.
	ErrProviderUnavailable = fmt.Errorf("model provider unavailable: %w", errdefs.ErrUnavailable)
	// ErrInvalidRequest indicates the provider rejected the request.
	ErrInvalidRequest = fmt.Errorf("model request invalid: %w", errdefs.ErrInvalidArgument)
)
