// Package tools is the uniform adapter over the retrieval operations.
// Every call is canonicalized into a RetrievalRequest, served from the
// result cache when possible, and sanitized before anything reaches the
// language model. The cache always holds the raw, unredacted payload.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/logscout/logscout/internal/cache"
	"github.com/logscout/logscout/internal/logstore"
	"github.com/logscout/logscout/internal/redact"
	"golang.org/x/sync/semaphore"
)

// Adapter errors surfaced to the orchestrator. InvalidParameters and
// ScopeNotFound are correctable by the model; RemoteUnavailable is not.
var (
	ErrRemoteUnavailable = fmt.Errorf("retrieval backend unavailable: %w", errdefs.ErrUnavailable)
	ErrInvalidParameters = fmt.Errorf("invalid tool parameters: %w", errdefs.ErrInvalidArgument)
	ErrScopeNotFound     = fmt.Errorf("scope not found: %w", errdefs.ErrNotFound)
)

// Call is a fully resolved retrieval invocation: parameters validated,
// relative times anchored, scopes normalized. A Call can be re-dispatched
// verbatim, which is what the window-expansion retry does.
type Call struct {
	Kind   Kind
	Prefix string
	Group  string
	Groups []string
	Window logstore.Window
	Filter string
}

// Request returns the call-level canonical identity used for retry
// counting. Branch-level cache keys are derived separately inside Do.
func (c Call) Request() RetrievalRequest {
	scope := c.Prefix
	switch c.Kind {
	case KindFetch:
		scope = c.Group
	case KindSearch:
		scope = strings.Join(c.Groups, ",")
	}
	return Canonicalize(RetrievalRequest{Kind: c.Kind, Scope: scope, Window: c.Window, Filter: c.Filter})
}

// BranchFailure reports one failed scope inside a fan-out search.
type BranchFailure struct {
	Group string `json:"group"`
	Cause string `json:"cause"`
}

// Result is the outcome of one adapter call. Events and Groups hold the
// raw items; ModelPayload produces the sanitized form for the model.
type Result struct {
	Call      Call
	Groups    []logstore.Group
	Events    []logstore.Event
	Truncated bool
	Failures  []BranchFailure
	CacheHits int
}

// Empty reports whether the call produced no items at all.
func (r *Result) Empty() bool {
	return len(r.Groups) == 0 && len(r.Events) == 0
}

// Summary is a short human-readable outcome line for the call record.
func (r *Result) Summary() string {
	var b strings.Builder
	switch r.Call.Kind {
	case KindEnumerate:
		fmt.Fprintf(&b, "%d groups", len(r.Groups))
	default:
		fmt.Fprintf(&b, "%d events", len(r.Events))
	}
	if r.Truncated {
		b.WriteString(", truncated")
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, ", %d scopes failed", len(r.Failures))
	}
	if r.CacheHits > 0 {
		fmt.Fprintf(&b, ", %d cache hits", r.CacheHits)
	}
	return b.String()
}

type modelGroup struct {
	Name string `json:"name"`
}

type modelEvent struct {
	Group     string `json:"group"`
	Stream    string `json:"stream,omitempty"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type modelPayload struct {
	Groups         []modelGroup    `json:"groups,omitempty"`
	Events         []modelEvent    `json:"events,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
	FailedScopes   []BranchFailure `json:"failed_scopes,omitempty"`
	WindowStart    string          `json:"window_start,omitempty"`
	WindowEnd      string          `json:"window_end,omitempty"`
	NoteOnTruncate string          `json:"note,omitempty"`
}

// ModelPayload serializes the result for the model with every message
// run through the redactor. The raw items stay untouched.
func (r *Result) ModelPayload() (string, error) {
	p := modelPayload{Truncated: r.Truncated, FailedScopes: r.Failures}
	for _, g := range r.Groups {
		p.Groups = append(p.Groups, modelGroup{Name: redact.Sanitize(g.Name)})
	}
	for _, e := range r.Events {
		p.Events = append(p.Events, modelEvent{
			Group:     e.Group,
			Stream:    e.Stream,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Message:   redact.Sanitize(e.Message),
		})
	}
	if !r.Call.Window.IsZero() {
		p.WindowStart = r.Call.Window.Start.UTC().Format(time.RFC3339)
		p.WindowEnd = r.Call.Window.End.UTC().Format(time.RFC3339)
	}
	if r.Truncated {
		p.NoteOnTruncate = "result capped; narrow the window or filter instead of repeating the call"
	}
	out, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal tool payload: %w", err)
	}
	return string(out), nil
}

// cachedBranch is the raw payload persisted per cache entry.
type cachedBranch struct {
	Groups    []logstore.Group `json:"groups,omitempty"`
	Events    []logstore.Event `json:"events,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Adapter dispatches retrieval calls through the cache to the remote
// store.
type Adapter struct {
	cache   *cache.Cache
	remote  logstore.Client
	itemCap int
	fanOut  *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Adapter. fanOutLimit bounds concurrent branches of one
// search; itemCap is the per-call item ceiling.
func New(c *cache.Cache, remote logstore.Client, itemCap, fanOutLimit int, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if fanOutLimit <= 0 {
		fanOutLimit = 1
	}
	return &Adapter{
		cache:   c,
		remote:  remote,
		itemCap: itemCap,
		fanOut:  semaphore.NewWeighted(int64(fanOutLimit)),
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve parses raw JSON tool arguments into a dispatchable Call.
func (a *Adapter) Resolve(kind Kind, rawArgs string) (Call, error) {
	switch kind {
	case KindEnumerate:
		var p EnumerateParams
		if err := decodeArgs(rawArgs, &p); err != nil {
			return Call{}, err
		}
		return Call{Kind: kind, Prefix: strings.ToLower(strings.TrimSpace(p.Prefix))}, nil

	case KindFetch:
		var p FetchParams
		if err := decodeArgs(rawArgs, &p); err != nil {
			return Call{}, err
		}
		group := strings.ToLower(strings.TrimSpace(p.Group))
		if group == "" {
			return Call{}, fmt.Errorf("%w: group is required", ErrInvalidParameters)
		}
		window, err := resolveWindow(p.Start, p.End, p.Last, a.now())
		if err != nil {
			return Call{}, err
		}
		return Call{Kind: kind, Group: group, Window: window, Filter: strings.TrimSpace(p.Filter)}, nil

	case KindSearch:
		var p SearchParams
		if err := decodeArgs(rawArgs, &p); err != nil {
			return Call{}, err
		}
		groups, err := normalizeGroups(p.Groups)
		if err != nil {
			return Call{}, err
		}
		window, err := resolveWindow(p.Start, p.End, p.Last, a.now())
		if err != nil {
			return Call{}, err
		}
		return Call{Kind: kind, Groups: groups, Window: window, Filter: strings.TrimSpace(p.Filter)}, nil

	default:
		return Call{}, fmt.Errorf("%w: unknown tool %q", ErrInvalidParameters, kind)
	}
}

func decodeArgs(rawArgs string, into any) error {
	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		rawArgs = "{}"
	}
	if err := json.Unmarshal([]byte(rawArgs), into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// Do executes a resolved call.
func (a *Adapter) Do(ctx context.Context, call Call) (*Result, error) {
	switch call.Kind {
	case KindEnumerate:
		return a.enumerate(ctx, call)
	case KindFetch:
		return a.fetch(ctx, call)
	case KindSearch:
		return a.search(ctx, call)
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", ErrInvalidParameters, call.Kind)
	}
}

func (a *Adapter) enumerate(ctx context.Context, call Call) (*Result, error) {
	res := &Result{Call: call}
	key := call.Request().Signature()

	if branch, ok := a.lookup(key); ok {
		res.Groups = branch.Groups
		res.CacheHits = 1
		return res, nil
	}

	groups, err := a.remote.ListGroups(ctx, call.Prefix)
	if err != nil {
		return nil, translateRemote(err)
	}
	truncated := false
	if len(groups) > a.itemCap {
		groups = groups[:a.itemCap]
		truncated = true
	}
	a.store(key, cachedBranch{Groups: groups, Truncated: truncated}, time.Time{})
	res.Groups = groups
	res.Truncated = truncated
	return res, nil
}

func (a *Adapter) fetch(ctx context.Context, call Call) (*Result, error) {
	res := &Result{Call: call}
	branch, hit, err := a.branchEvents(ctx, KindFetch, call.Group, call.Window, call.Filter)
	if err != nil {
		return nil, err
	}
	if hit {
		res.CacheHits = 1
	}
	res.Events = branch.Events
	res.Truncated = branch.Truncated
	return res, nil
}

// search fans out one branch per scope. Branches run concurrently under
// the fan-out semaphore; a failed branch becomes a partial-result marker
// rather than failing the whole call. Only when every branch fails does
// the call fail.
func (a *Adapter) search(ctx context.Context, call Call) (*Result, error) {
	type branchOutcome struct {
		group  string
		branch cachedBranch
		hit    bool
		err    error
	}

	outcomes := make([]branchOutcome, len(call.Groups))
	var wg sync.WaitGroup
	for i, group := range call.Groups {
		if err := a.fanOut.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting; abandon remaining branches.
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, group string) {
			defer wg.Done()
			defer a.fanOut.Release(1)
			branch, hit, err := a.branchEvents(ctx, KindSearch, group, call.Window, call.Filter)
			outcomes[i] = branchOutcome{group: group, branch: branch, hit: hit, err: err}
		}(i, group)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Call: call}
	failedAll := true
	var lastErr error
	for _, o := range outcomes {
		if o.err != nil {
			lastErr = o.err
			res.Failures = append(res.Failures, BranchFailure{Group: o.group, Cause: o.err.Error()})
			continue
		}
		failedAll = false
		if o.hit {
			res.CacheHits++
		}
		res.Events = append(res.Events, o.branch.Events...)
		if o.branch.Truncated {
			res.Truncated = true
		}
	}
	if failedAll && len(call.Groups) > 0 {
		return nil, lastErr
	}
	if len(res.Events) > a.itemCap {
		res.Events = res.Events[:a.itemCap]
		res.Truncated = true
	}
	return res, nil
}

// branchEvents serves one (kind, group, window, filter) branch from the
// cache or the remote store. Returned data is raw; redaction happens in
// ModelPayload.
func (a *Adapter) branchEvents(ctx context.Context, kind Kind, group string, window logstore.Window, filter string) (cachedBranch, bool, error) {
	req := Canonicalize(RetrievalRequest{Kind: kind, Scope: group, Window: window, Filter: filter})
	key := req.Signature()
	if branch, ok := a.lookup(key); ok {
		return branch, true, nil
	}

	var events []logstore.Event
	var err error
	switch kind {
	case KindFetch:
		events, err = a.remote.FetchEvents(ctx, group, window, filter)
	default:
		events, err = a.remote.SearchEvents(ctx, group, window, filter)
	}
	if err != nil {
		return cachedBranch{}, false, translateRemote(err)
	}

	branch := cachedBranch{Events: events}
	if len(branch.Events) > a.itemCap {
		branch.Events = branch.Events[:a.itemCap]
		branch.Truncated = true
	}
	a.store(key, branch, window.End)
	return branch, false, nil
}

func (a *Adapter) lookup(key string) (cachedBranch, bool) {
	payload, ok := a.cache.Lookup(key)
	if !ok {
		return cachedBranch{}, false
	}
	var branch cachedBranch
	if err := json.Unmarshal(payload, &branch); err != nil {
		a.logger.Warn("undecodable cache payload treated as miss", "key", key, "error", err)
		return cachedBranch{}, false
	}
	return branch, true
}

func (a *Adapter) store(key string, branch cachedBranch, windowEnd time.Time) {
	payload, err := json.Marshal(branch)
	if err != nil {
		a.logger.Warn("failed to encode cache payload", "key", key, "error", err)
		return
	}
	if err := a.cache.Store(key, payload, windowEnd); err != nil {
		a.logger.Warn("failed to store cache entry", "key", key, "error", err)
	}
}

// translateRemote maps log store errors onto the adapter taxonomy.
func translateRemote(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, logstore.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrScopeNotFound, err)
	case errors.Is(err, logstore.ErrRateLimited):
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
}

// Specs returns the tool declarations advertised to the model.
func Specs() []ToolDecl {
	return []ToolDecl{
		{
			Kind:        KindEnumerate,
			Description: "List log groups, optionally restricted to a name prefix.",
			Parameters: `{"type":"object","properties":{
				"prefix":{"type":"string","description":"optional group name prefix"}}}`,
		},
		{
			Kind:        KindFetch,
			Description: "Fetch log events from a single group within a time window.",
			Parameters: `{"type":"object","properties":{
				"group":{"type":"string"},
				"start":{"type":"string","description":"RFC3339 start of window"},
				"end":{"type":"string","description":"RFC3339 end of window"},
				"last":{"type":"string","description":"relative window such as 30m or 2h; alternative to start/end"},
				"filter":{"type":"string","description":"optional filter pattern"}},
				"required":["group"]}`,
		},
		{
			Kind:        KindSearch,
			Description: "Search log events across one or more groups within a time window.",
			Parameters: `{"type":"object","properties":{
				"groups":{"type":"array","items":{"type":"string"}},
				"start":{"type":"string"},
				"end":{"type":"string"},
				"last":{"type":"string"},
				"filter":{"type":"string"}},
				"required":["groups"]}`,
		},
	}
}

// ToolDecl describes one tool for the model boundary.
type ToolDecl struct {
	Kind        Kind
	Description string
	Parameters  string
}
