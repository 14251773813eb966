package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/logscout/logscout/internal/config"
)

func testConfig(urls ...string) config.LogStoreConfig {
	return config.LogStoreConfig{
		BaseURLs:       urls,
		TimeoutSeconds: 5,
		ItemCap:        100,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func TestListGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/groups" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("prefix"); got != "prod-" {
			t.Errorf("Expected prefix prod-, got %q", got)
		}
		if err := json.NewEncoder(w).Encode(listGroupsResponse{Groups: []Group{{Name: "prod-api"}, {Name: "prod-web"}}}); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	groups, err := c.ListGroups(context.Background(), "prod-")
	if err != nil {
		t.Fatalf("ListGroups returned error: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "prod-api" {
		t.Errorf("Unexpected groups: %v", groups)
	}
}

func TestFetchEventsSendsWindowAndCap(t *testing.T) {
	var got eventsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if err := json.NewEncoder(w).Encode(eventsResponse{Events: []Event{{Group: got.Group, Message: "hello"}}}); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	window := Window{
		Start: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	events, err := c.FetchEvents(context.Background(), "prod-api", window, "ERROR")
	if err != nil {
		t.Fatalf("FetchEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if got.Group != "prod-api" || got.Filter != "ERROR" {
		t.Errorf("Unexpected request payload: %+v", got)
	}
	if got.Start != "2026-03-01T10:00:00Z" {
		t.Errorf("Unexpected start: %s", got.Start)
	}
	// Limit is cap+1 so truncation is observable.
	if got.Limit != 101 {
		t.Errorf("Expected limit 101, got %d", got.Limit)
	}
}

func TestNotFoundIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such group", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	_, err := c.FetchEvents(context.Background(), "missing", Window{Start: time.Now().Add(-time.Hour), End: time.Now()}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !errdefs.IsNotFound(err) {
		t.Errorf("Expected errdefs.IsNotFound, got %v", err)
	}
}

func TestRateLimitedRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if err := json.NewEncoder(w).Encode(eventsResponse{}); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	_, err := c.SearchEvents(context.Background(), "g", Window{Start: time.Now().Add(-time.Hour), End: time.Now()}, "x")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("Expected at least 2 calls, got %d", calls.Load())
	}
}

func TestFailoverToSecondEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(listGroupsResponse{Groups: []Group{{Name: "g"}}}); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	// First endpoint refuses connections; second answers.
	c := NewHTTPClient(testConfig("http://127.0.0.1:1", srv.URL), nil)
	groups, err := c.ListGroups(context.Background(), "")
	if err != nil {
		t.Fatalf("Expected failover to succeed, got %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("Expected 1 group, got %d", len(groups))
	}
}

func TestAllEndpointsDownIsUnavailable(t *testing.T) {
	c := NewHTTPClient(testConfig("http://127.0.0.1:1"), nil)
	_, err := c.ListGroups(context.Background(), "")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}
