package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/logscout/logscout/internal/logstore"
)

// Kind identifies one retrieval operation. The set is closed; dispatch
// resolves a kind to a concrete function once, never by name lookup at
// call time.
type Kind string

const (
	KindEnumerate Kind = "enumerate_groups"
	KindFetch     Kind = "fetch_events"
	KindSearch    Kind = "search_events"
)

// RetrievalRequest is the canonical identity of one retrieval call. Two
// requests are equivalent iff all fields match after canonicalization;
// Signature is the stable hash used for cache keys and retry counting.
type RetrievalRequest struct {
	Kind   Kind
	Scope  string
	Window logstore.Window
	Filter string
}

// Canonicalize normalizes a request: scope case-folded and trimmed,
// window rounded down to whole seconds, filter trimmed.
func Canonicalize(req RetrievalRequest) RetrievalRequest {
	req.Scope = strings.ToLower(strings.TrimSpace(req.Scope))
	req.Filter = strings.TrimSpace(req.Filter)
	if !req.Window.Start.IsZero() {
		req.Window.Start = req.Window.Start.UTC().Truncate(time.Second)
	}
	if !req.Window.End.IsZero() {
		req.Window.End = req.Window.End.UTC().Truncate(time.Second)
	}
	return req
}

// Signature returns the canonical hash of the request.
func (r RetrievalRequest) Signature() string {
	c := Canonicalize(r)
	var b strings.Builder
	b.WriteString(string(c.Kind))
	b.WriteByte('|')
	b.WriteString(c.Scope)
	b.WriteByte('|')
	if !c.Window.Start.IsZero() {
		b.WriteString(c.Window.Start.Format(time.RFC3339))
	}
	b.WriteByte('|')
	if !c.Window.End.IsZero() {
		b.WriteString(c.Window.End.Format(time.RFC3339))
	}
	b.WriteByte('|')
	b.WriteString(c.Filter)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// EnumerateParams are the arguments for the enumerate_groups tool.
type EnumerateParams struct {
	Prefix string `json:"prefix,omitempty"`
}

// FetchParams are the arguments for the fetch_events tool. Either Last
// (a relative duration such as "1h") or an absolute Start/End pair must
// be supplied.
type FetchParams struct {
	Group  string `json:"group"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	Last   string `json:"last,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// SearchParams are the arguments for the search_events tool.
type SearchParams struct {
	Groups []string `json:"groups"`
	Start  string   `json:"start,omitempty"`
	End    string   `json:"end,omitempty"`
	Last   string   `json:"last,omitempty"`
	Filter string   `json:"filter,omitempty"`
}

// resolveWindow turns relative or absolute time parameters into an
// absolute window. now anchors relative expressions.
func resolveWindow(start, end, last string, now time.Time) (logstore.Window, error) {
	if last != "" {
		if start != "" || end != "" {
			return logstore.Window{}, fmt.Errorf("%w: last cannot be combined with start/end", ErrInvalidParameters)
		}
		d, err := time.ParseDuration(strings.TrimSpace(last))
		if err != nil || d <= 0 {
			return logstore.Window{}, fmt.Errorf("%w: bad duration %q", ErrInvalidParameters, last)
		}
		return logstore.Window{Start: now.Add(-d), End: now}, nil
	}
	if start == "" || end == "" {
		return logstore.Window{}, fmt.Errorf("%w: start and end are both required without last", ErrInvalidParameters)
	}
	s, err := time.Parse(time.RFC3339, strings.TrimSpace(start))
	if err != nil {
		return logstore.Window{}, fmt.Errorf("%w: bad start %q", ErrInvalidParameters, start)
	}
	e, err := time.Parse(time.RFC3339, strings.TrimSpace(end))
	if err != nil {
		return logstore.Window{}, fmt.Errorf("%w: bad end %q", ErrInvalidParameters, end)
	}
	if !e.After(s) {
		return logstore.Window{}, fmt.Errorf("%w: end must be after start", ErrInvalidParameters)
	}
	return logstore.Window{Start: s, End: e}, nil
}

// normalizeGroups trims, case-folds, de-duplicates, and sorts the scope
// set of a search so equivalent calls share branch signatures.
func normalizeGroups(groups []string) ([]string, error) {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one group is required", ErrInvalidParameters)
	}
	sort.Strings(out)
	return out, nil
}
