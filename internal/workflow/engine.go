// Package workflow is the boundary to the durable workflow engine. Routes hand
// validated payloads to an Engine and return once the engine accepts them.
package workflow

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"aidpanel.org/internal/ids"
)

var (
	// ErrHookNotFound means no workflow is waiting on the given hook token.
	ErrHookNotFound = errors.New("workflow: hook not found")
	// ErrEngine wraps transport and server failures of the engine.
	ErrEngine = errors.New("workflow: engine failure")
)

// Engine starts workflows and resumes hooks they wait on.
type Engine interface {
	Start(ctx context.Context, name string, input any) (Run, error)
	Resume(ctx context.Context, token string, payload any) error
}

// StartedRun is a run recorded by LocalEngine.
type StartedRun struct {
	Run
	Input any
}

type approvalHooks interface {
	ApprovalTokens() (first, second string)
}

// LocalEngine records runs in memory. It backs development setups without an
// engine and the HTTP tests.
type LocalEngine struct {
	mu        sync.Mutex
	runs      []StartedRun
	listeners map[string]struct{}
	resumed   map[string][]any
	now       func() time.Time
}

// NewLocalEngine returns an empty LocalEngine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{
		listeners: make(map[string]struct{}),
		resumed:   make(map[string][]any),
		now:       time.Now,
	}
}

var _ Engine = (*LocalEngine)(nil)

// Start implements Engine. Dual approvals register both approval hooks.
func (e *LocalEngine) Start(_ context.Context, name string, input any) (Run, error) {
	run := Run{ID: ids.New(), Workflow: name, StartedAt: e.now().UTC()}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, StartedRun{Run: run, Input: input})
	if h, ok := input.(approvalHooks); ok {
		first, second := h.ApprovalTokens()
		e.listeners[first] = struct{}{}
		e.listeners[second] = struct{}{}
	}
	return run, nil
}

// Resume implements Engine.
func (e *LocalEngine) Resume(_ context.Context, token string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[token]; !ok {
		return ErrHookNotFound
	}
	e.resumed[token] = append(e.resumed[token], payload)
	return nil
}

// Listen registers a hook token as awaited.
func (e *LocalEngine) Listen(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[token] = struct{}{}
}

// Runs returns the recorded runs in start order.
func (e *LocalEngine) Runs() []StartedRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.runs)
}

// Resumed returns the payloads delivered to token.
func (e *LocalEngine) Resumed(token string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.resumed[token])
}
