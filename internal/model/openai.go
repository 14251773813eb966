package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/logscout/logscout/internal/config"
	"github.com/tidwall/gjson"
)

// OpenAIClient speaks the OpenAI-compatible chat completions protocol
// with streaming enabled.
type OpenAIClient struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	http        *http.Client
	logger      *slog.Logger
}

// NewOpenAIClient creates a client from configuration.
func NewOpenAIClient(cfg config.ModelConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger,
	}
}

var _ Completer = (*OpenAIClient)(nil)

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// Complete streams a chat completion. Text deltas are yielded as they
// arrive; tool-call fragments are assembled across frames and emitted on
// the terminal chunk.
func (c *OpenAIClient) Complete(ctx context.Context, history []Message, tools []ToolSpec) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		body, err := c.open(ctx, history, tools)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if closeErr := body.Close(); closeErr != nil {
				c.logger.Debug("failed to close model response body", "error", closeErr)
			}
		}()

		assembler := newToolCallAssembler()
		finish := ""
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			delta := gjson.Get(payload, "choices.0.delta")
			if text := delta.Get("content"); text.Exists() && text.String() != "" {
				if !yield(&Chunk{TextDelta: text.String()}, nil) {
					return
				}
			}
			if calls := delta.Get("tool_calls"); calls.Exists() {
				assembler.feed(calls)
			}
			if reason := gjson.Get(payload, "choices.0.finish_reason"); reason.Exists() && reason.String() != "" {
				finish = reason.String()
			}
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("%w: read stream: %v", ErrProviderUnavailable, err))
			return
		}

		if finish == "" {
			finish = "stop"
		}
		yield(&Chunk{ToolCalls: assembler.calls(), FinishReason: finish}, nil)
	}
}

func (c *OpenAIClient) open(ctx context.Context, history []Message, tools []ToolSpec) (io.ReadCloser, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(history)),
		Temperature: c.temperature,
		Stream:      true,
	}
	for _, m := range history {
		cm := chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wire chatToolCall
			wire.ID = tc.ID
			wire.Type = "function"
			wire.Function.Name = tc.Name
			wire.Function.Arguments = tc.Arguments
			cm.ToolCalls = append(cm.ToolCalls, wire)
		}
		req.Messages = append(req.Messages, cm)
	}
	for _, t := range tools {
		var wire chatTool
		wire.Type = "function"
		wire.Function.Name = t.Name
		wire.Function.Description = t.Description
		wire.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, wire)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close model error body", "error", closeErr)
		}
		detail := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, resp.StatusCode, detail)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, detail)
	}
	return resp.Body, nil
}

// toolCallAssembler merges streamed tool-call fragments. Providers send
// the id and name on the first fragment for an index and argument text
// spread across subsequent fragments.
type toolCallAssembler struct {
	byIndex map[int]*ToolCall
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAssembler) feed(fragments gjson.Result) {
	fragments.ForEach(func(_, frag gjson.Result) bool {
		idx := int(frag.Get("index").Int())
		tc, ok := a.byIndex[idx]
		if !ok {
			tc = &ToolCall{}
			a.byIndex[idx] = tc
		}
		if id := frag.Get("id"); id.Exists() && id.String() != "" {
			tc.ID = id.String()
		}
		if name := frag.Get("function.name"); name.Exists() && name.String() != "" {
			tc.Name = name.String()
		}
		if args := frag.Get("function.arguments"); args.Exists() {
			tc.Arguments += args.String()
		}
		return true
	})
}

func (a *toolCallAssembler) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
