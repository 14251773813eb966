// Package logstore defines the remote log store boundary: domain types,
// the client contract, and the error taxonomy the orchestration core
// relies on to tell "empty" apart from "unavailable" or "throttled".
package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
)

// Group is a named collection of log streams in the remote store.
type Group struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	StoredMB  float64   `json:"stored_mb,omitempty"`
}

// Event is a single log record.
type Event struct {
	Group     string    `json:"group"`
	Stream    string    `json:"stream,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Window bounds a retrieval in time. Both instants are absolute; relative
// expressions are resolved before a Window is built.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the span of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Client is the remote log store collaborator.
type Client interface {
	// ListGroups enumerates groups, optionally restricted to a name prefix.
	ListGroups(ctx context.Context, prefix string) ([]Group, error)
	// FetchEvents retrieves events from one group within the window.
	FetchEvents(ctx context.Context, group string, window Window, filter string) ([]Event, error)
	// SearchEvents retrieves matching events from a single group within the
	// window. Multi-group searches are fanned out by the caller so each
	// branch can hit the cache independently.
	SearchEvents(ctx context.Context, group string, window Window, filter string) ([]Event, error)
}

// Sentinel errors returned by Client implementations. They are classified
// through errdefs so callers can use errdefs.IsNotFound and friends at the
// adapter boundary.
var (
	// ErrUnavailable indicates the remote store could not be reached or
	// answered with a server-side failure.
	ErrUnavailable = fmt.Errorf("log store unavailable: %w", errdefs.ErrUnavailable)
	// ErrNotFound indicates the named group does not exist.
	ErrNotFound = fmt.Errorf("log group not found: %w", errdefs.ErrNotFound)
	// ErrRateLimited indicates the store throttled the call. Callers must
	// back off instead of treating the result as empty.
	ErrRateLimited = fmt.Errorf("log store rate limited: %w", errdefs.ErrResourceExhausted)
)

// IsRateLimited reports whether err is a throttling failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
