package tools

import (
	"errors"
	"testing"
	"time"

	"github.com/logscout/logscout/internal/logstore"
)

func TestSignatureEquivalence(t *testing.T) {
	window := logstore.Window{
		Start: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}

	base := RetrievalRequest{Kind: KindFetch, Scope: "prod-api", Window: window, Filter: "ERROR"}

	tests := []struct {
		name string
		req  RetrievalRequest
		same bool
	}{
		{"identical", base, true},
		{"scope case folded", RetrievalRequest{Kind: KindFetch, Scope: "PROD-API", Window: window, Filter: "ERROR"}, true},
		{"scope whitespace trimmed", RetrievalRequest{Kind: KindFetch, Scope: "  prod-api ", Window: window, Filter: "ERROR"}, true},
		{"sub-second rounding", RetrievalRequest{Kind: KindFetch, Scope: "prod-api", Window: logstore.Window{
			Start: window.Start.Add(300 * time.Millisecond),
			End:   window.End.Add(900 * time.Millisecond),
		}, Filter: "ERROR"}, true},
		{"different filter", RetrievalRequest{Kind: KindFetch, Scope: "prod-api", Window: window, Filter: "WARN"}, false},
		{"different kind", RetrievalRequest{Kind: KindSearch, Scope: "prod-api", Window: window, Filter: "ERROR"}, false},
		{"different window", RetrievalRequest{Kind: KindFetch, Scope: "prod-api", Window: logstore.Window{
			Start: window.Start.Add(-time.Hour),
			End:   window.End,
		}, Filter: "ERROR"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.req.Signature() == base.Signature()
			if got != tt.same {
				t.Errorf("Signature equality = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestResolveWindowRelative(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := resolveWindow("", "", "2h", now)
	if err != nil {
		t.Fatalf("resolveWindow returned error: %v", err)
	}
	if !w.End.Equal(now) || !w.Start.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("Unexpected window: %+v", w)
	}
}

func TestResolveWindowAbsolute(t *testing.T) {
	now := time.Now()
	w, err := resolveWindow("2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z", "", now)
	if err != nil {
		t.Fatalf("resolveWindow returned error: %v", err)
	}
	if w.Duration() != time.Hour {
		t.Errorf("Expected 1h window, got %s", w.Duration())
	}
}

func TestResolveWindowRejections(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name             string
		start, end, last string
	}{
		{"last with start", "2026-03-01T10:00:00Z", "", "1h"},
		{"bad duration", "", "", "soonish"},
		{"negative duration", "", "", "-1h"},
		{"missing end", "2026-03-01T10:00:00Z", "", ""},
		{"unparsable start", "yesterday", "2026-03-01T11:00:00Z", ""},
		{"inverted window", "2026-03-01T11:00:00Z", "2026-03-01T10:00:00Z", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveWindow(tt.start, tt.end, tt.last, now)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("Expected ErrInvalidParameters, got %v", err)
			}
		})
	}
}

func TestNormalizeGroups(t *testing.T) {
	got, err := normalizeGroups([]string{" Prod-API ", "prod-web", "PROD-api", ""})
	if err != nil {
		t.Fatalf("normalizeGroups returned error: %v", err)
	}
	want := []string{"prod-api", "prod-web"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if _, err := normalizeGroups([]string{"", "  "}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected ErrInvalidParameters for empty set, got %v", err)
	}
}
