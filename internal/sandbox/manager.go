package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ExecResult is the outcome of one command run inside a session.
// A non-zero ExitCode is not an error; callers inspect it.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is a live connection to a running sandbox. It is only valid
// within the step that acquired it; the session id alone survives steps.
type Session interface {
	ID() string
	Run(ctx context.Context, cmd string) (ExecResult, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
}

// Provider is the compute backend that hosts sandbox sessions.
type Provider interface {
	Create(ctx context.Context, template string, lifetime time.Duration) (string, error)
	Reconnect(ctx context.Context, id string) (Session, error)
	Terminate(ctx context.Context, id string) error
}

// Handle is a step-local grip on a session. It must be released through
// Manager.Release before the step returns.
type Handle struct {
	session  Session
	mu       sync.Mutex
	released bool
}

// ID returns the opaque session id, the only part of a handle that may
// be persisted across step boundaries.
func (h *Handle) ID() string { return h.session.ID() }

// Session returns the live session bound to this handle.
func (h *Handle) Session() Session { return h.session }

const (
	maxCreateAttempts  = 4
	initialCreateDelay = 1 * time.Second
	maxCreateDelay     = 30 * time.Second
)

// Manager owns session acquisition and teardown against a Provider.
type Manager struct {
	provider Provider
	template string
	lifetime time.Duration
	logger   *slog.Logger

	// sleep is swapped in tests to avoid real backoff waits
	sleep func(time.Duration)
}

// NewManager creates a Manager for the given provider and session template.
func NewManager(provider Provider, template string, lifetime time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		template: template,
		lifetime: lifetime,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Acquire returns a handle bound to a live session. When existingID is
// non-empty it attempts a reconnect first; a provider that no longer knows
// the id falls through to creation. The returned replaced flag is true when
// a new session took the place of a stale existingID, so the caller can
// persist the new id as the session of record.
func (m *Manager) Acquire(ctx context.Context, existingID string) (handle *Handle, replaced bool, err error) {
	if existingID != "" {
		session, err := m.provider.Reconnect(ctx, existingID)
		if err == nil {
			return &Handle{session: session}, false, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, false, fmt.Errorf("reconnect %s: %w", existingID, err)
		}
		m.logger.Info("sandbox session expired, creating replacement", "stale_id", existingID)
	}

	id, err := m.createWithRetry(ctx)
	if err != nil {
		return nil, false, err
	}

	session, err := m.provider.Reconnect(ctx, id)
	if err != nil {
		// The fresh session's id has nowhere to be persisted on this
		// branch, so tear it down rather than leak a billable resource.
		if termErr := m.provider.Terminate(ctx, id); termErr != nil {
			m.logger.Error("terminate unusable fresh session failed", "id", id, "error", termErr)
		}
		return nil, false, fmt.Errorf("reconnect to fresh session %s: %w", id, err)
	}
	return &Handle{session: session}, existingID != "", nil
}

// createWithRetry creates a session, retrying transient failures with
// exponential backoff up to maxCreateAttempts. Permanent failures return
// immediately.
func (m *Manager) createWithRetry(ctx context.Context) (string, error) {
	delay := initialCreateDelay
	var lastErr error

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := m.provider.Create(ctx, m.template, m.lifetime)
		if err == nil {
			return id, nil
		}
		if !Transient(err) {
			return "", fmt.Errorf("create sandbox: %w", err)
		}
		lastErr = err
		if attempt < maxCreateAttempts {
			m.logger.Warn("sandbox create failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			m.sleep(delay)
			delay *= 2
			if delay > maxCreateDelay {
				delay = maxCreateDelay
			}
		}
	}
	return "", fmt.Errorf("create sandbox after %d attempts: %w", maxCreateAttempts, lastErr)
}

// Release terminates the handle's session. It is safe to call with a nil
// handle and safe to call more than once; termination errors are logged
// and swallowed so cleanup can never mask the pipeline's real outcome.
func (m *Manager) Release(ctx context.Context, handle *Handle) {
	if handle == nil {
		return
	}
	handle.mu.Lock()
	if handle.released {
		handle.mu.Unlock()
		return
	}
	handle.released = true
	handle.mu.Unlock()

	if err := m.provider.Terminate(ctx, handle.ID()); err != nil {
		m.logger.Error("sandbox terminate failed", "id", handle.ID(), "error", err)
	}
}
