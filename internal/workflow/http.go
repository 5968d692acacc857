package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aidpanel.org/internal/ids"
	"aidpanel.org/internal/obs"
)

// HTTPEngine talks to the workflow engine's JSON API.
type HTTPEngine struct {
	base    string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPOption configures HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEngine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithAPIToken sends token as a bearer credential.
func WithAPIToken(token string) HTTPOption {
	return func(e *HTTPEngine) { e.token = strings.TrimSpace(token) }
}

// WithRate paces outgoing calls. A non-positive rps disables pacing.
func WithRate(rps float64, burst int) HTTPOption {
	return func(e *HTTPEngine) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPEngine returns an engine client rooted at baseURL.
func NewHTTPEngine(baseURL string, opts ...HTTPOption) (*HTTPEngine, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid workflow engine url %q", baseURL)
	}
	e := &HTTPEngine{
		base:    strings.TrimRight(u.String(), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

var _ Engine = (*HTTPEngine)(nil)

type startRequest struct {
	Workflow string `json:"workflow"`
	Input    any    `json:"input"`
}

type startResponse struct {
	RunID string `json:"runId"`
}

// Start implements Engine.
func (e *HTTPEngine) Start(ctx context.Context, name string, input any) (Run, error) {
	runID := ids.New()
	var out startResponse
	status, err := e.post(ctx, "/v1/runs", runID, startRequest{Workflow: name, Input: input}, &out)
	if err != nil {
		obs.ObserveWorkflow(name, "error")
		return Run{}, err
	}
	if status >= 300 {
		obs.ObserveWorkflow(name, "rejected")
		return Run{}, fmt.Errorf("%w: start %s returned %d", ErrEngine, name, status)
	}
	if out.RunID != "" {
		runID = out.RunID
	}
	obs.ObserveWorkflow(name, "started")
	return Run{ID: runID, Workflow: name, StartedAt: time.Now().UTC()}, nil
}

// Resume implements Engine.
func (e *HTTPEngine) Resume(ctx context.Context, token string, payload any) error {
	path := "/v1/hooks/" + url.PathEscape(token) + "/resume"
	status, err := e.post(ctx, path, ids.New(), map[string]any{"payload": payload}, nil)
	if err != nil {
		obs.ObserveWorkflow("hook", "error")
		return err
	}
	switch {
	case status == http.StatusNotFound:
		obs.ObserveWorkflow("hook", "not_found")
		return ErrHookNotFound
	case status >= 300:
		obs.ObserveWorkflow("hook", "rejected")
		return fmt.Errorf("%w: resume returned %d", ErrEngine, status)
	}
	obs.ObserveWorkflow("hook", "resumed")
	return nil
}

func (e *HTTPEngine) post(ctx context.Context, path, idemKey string, body, dst any) (int, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrEngine, err)
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	defer resp.Body.Close()

	if dst != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %w", ErrEngine, err)
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}
