package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/logscout/logscout/internal/config"
)

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, c *OpenAIClient, history []Message) (string, *Chunk, error) {
	t.Helper()
	var text string
	var final *Chunk
	for chunk, err := range c.Complete(context.Background(), history, nil) {
		if err != nil {
			return text, final, err
		}
		text += chunk.TextDelta
		if chunk.Done() {
			final = chunk
		}
	}
	return text, final, nil
}

func testModelConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		BaseURL:        baseURL,
		Model:          "test-model",
		TimeoutSeconds: 5,
	}
}

func clientFor(srv *httptest.Server) *OpenAIClient {
	return NewOpenAIClient(testModelConfig(srv.URL), nil)
}

func TestCompleteStreamsText(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	text, final, err := collect(t, clientFor(srv), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if text != "Hello" {
		t.Errorf("Expected streamed text Hello, got %q", text)
	}
	if final == nil || final.FinishReason != "stop" {
		t.Errorf("Unexpected final chunk: %+v", final)
	}
}

func TestCompleteAssemblesToolCalls(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search_events","arguments":"{\"gro"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ups\":[\"prod\"]}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	_, final, err := collect(t, clientFor(srv), []Message{{Role: RoleUser, Content: "find errors"}})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if final == nil || final.FinishReason != "tool_calls" {
		t.Fatalf("Unexpected final chunk: %+v", final)
	}
	if len(final.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(final.ToolCalls))
	}
	tc := final.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search_events" {
		t.Errorf("Unexpected tool call identity: %+v", tc)
	}
	if tc.Arguments != `{"groups":["prod"]}` {
		t.Errorf("Arguments not reassembled: %q", tc.Arguments)
	}
}

func TestCompleteBadRequestIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, _, err := collect(t, clientFor(srv), []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestCompleteProviderDown(t *testing.T) {
	c := NewOpenAIClient(testModelConfig("http://127.0.0.1:1"), nil)
	_, _, err := collect(t, c, []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCompleteCancellation(t *testing.T) {
	srv := sseServer(t, `{"choices":[{"delta":{"content":"partial"}}]}`)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := clientFor(srv)
	var sawErr error
	for chunk, err := range c.Complete(ctx, []Message{{Role: RoleUser, Content: "hi"}}, nil) {
		if err != nil {
			sawErr = err
			break
		}
		if chunk.TextDelta != "" {
			cancel()
		}
	}
	if sawErr == nil || !errors.Is(sawErr, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", sawErr)
	}
}
