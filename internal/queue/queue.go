// Package queue persists follow-on work and decides what happens to a task
// when its pipeline fails.
package queue

import (
	"context"
	"log/slog"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
)

// DrainSignaler carries the advisory drain hint to the external scheduler.
// Delivery is best-effort; the scheduler owns actual dispatch timing.
type DrainSignaler interface {
	SignalDrain(ctx context.Context, limit int) error
}

// Queue creates follow-on tasks and nudges the scheduler to dispatch them.
type Queue struct {
	store    *taskstore.Store
	signaler DrainSignaler
	logger   *slog.Logger
}

// New creates a Queue. signaler may be nil when no scheduler bridge is
// configured; drain hints are then skipped.
func New(store *taskstore.Store, signaler DrainSignaler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, signaler: signaler, logger: logger}
}

// Enqueue creates a new pending task.
func (q *Queue) Enqueue(taskType domain.TaskType, issueID string, payload map[string]any, priority domain.Priority) (*domain.Task, error) {
	return q.store.EnqueueTask(taskType, issueID, payload, priority)
}

// SignalDrain hints the external scheduler to attempt dispatch of at least
// limit pending tasks soon. Failures are logged, never propagated: the hint
// is advisory, not a delivery guarantee.
func (q *Queue) SignalDrain(ctx context.Context, limit int) {
	if q.signaler == nil {
		return
	}
	if err := q.signaler.SignalDrain(ctx, limit); err != nil {
		q.logger.Warn("drain hint failed", "limit", limit, "error", err)
	}
}
