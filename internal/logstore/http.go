package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/logscout/logscout/internal/config"
	"github.com/sethvargo/go-retry"
)

// HTTPClient talks to the log store's JSON API. Multiple base URLs act as
// failover replicas: a request is tried against each in order until one
// answers, except for rate limiting, which is backed off and retried
// against the same endpoint.
type HTTPClient struct {
	baseURLs   []string
	apiKey     string
	maxBackoff time.Duration
	itemCap    int
	http       *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client from configuration.
func NewHTTPClient(cfg config.LogStoreConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	urls := make([]string, 0, len(cfg.BaseURLs))
	for _, u := range cfg.BaseURLs {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			urls = append(urls, u)
		}
	}
	return &HTTPClient{
		baseURLs:   urls,
		apiKey:     cfg.APIKey,
		maxBackoff: cfg.MaxBackoff,
		itemCap:    cfg.ItemCap,
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

var _ Client = (*HTTPClient)(nil)

type listGroupsResponse struct {
	Groups []Group `json:"groups"`
}

type eventsRequest struct {
	Group  string `json:"group,omitempty"`
	Groups string `json:"groups,omitempty"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// ListGroups enumerates groups matching the optional prefix.
func (c *HTTPClient) ListGroups(ctx context.Context, prefix string) ([]Group, error) {
	path := "/api/v1/groups"
	if prefix != "" {
		path += "?prefix=" + url.QueryEscape(prefix)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp listGroupsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode groups response: %w", err)
	}
	return resp.Groups, nil
}

// FetchEvents retrieves events from one group within the window.
func (c *HTTPClient) FetchEvents(ctx context.Context, group string, window Window, filter string) ([]Event, error) {
	return c.events(ctx, "/api/v1/events/fetch", eventsRequest{
		Group:  group,
		Start:  window.Start.UTC().Format(time.RFC3339),
		End:    window.End.UTC().Format(time.RFC3339),
		Filter: filter,
		Limit:  c.itemCap + 1,
	})
}

// SearchEvents retrieves matching events from one group within the window.
func (c *HTTPClient) SearchEvents(ctx context.Context, group string, window Window, filter string) ([]Event, error) {
	return c.events(ctx, "/api/v1/events/search", eventsRequest{
		Group:  group,
		Start:  window.Start.UTC().Format(time.RFC3339),
		End:    window.End.UTC().Format(time.RFC3339),
		Filter: filter,
		Limit:  c.itemCap + 1,
	})
}

func (c *HTTPClient) events(ctx context.Context, path string, req eventsRequest) ([]Event, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal events request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	var resp eventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode events response: %w", err)
	}
	return resp.Events, nil
}

// do executes a request with endpoint failover. Rate limiting is retried
// with exponential backoff on the same endpoint before giving up.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if len(c.baseURLs) == 0 {
		return nil, fmt.Errorf("%w: no base URLs configured", ErrUnavailable)
	}

	var failures []string
	for _, baseURL := range c.baseURLs {
		var body []byte
		backoff := retry.WithMaxDuration(c.maxBackoff, retry.NewExponential(250*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var attemptErr error
			body, attemptErr = c.doEndpoint(ctx, method, baseURL+path, payload)
			if IsRateLimited(attemptErr) {
				c.logger.Debug("log store throttled request, backing off", "endpoint", baseURL, "path", path)
				return retry.RetryableError(attemptErr)
			}
			return attemptErr
		})
		if err == nil {
			return body, nil
		}
		// NotFound and RateLimited are authoritative answers, not endpoint
		// faults; trying a replica would not change them.
		if !isConnectivityFailure(err) {
			return nil, err
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
	}
	return nil, fmt.Errorf("%w: all endpoints failed: %s", ErrUnavailable, strings.Join(failures, " | "))
}

func (c *HTTPClient) doEndpoint(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func isConnectivityFailure(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
