package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
)

// permanentError marks a failure that must not be requeued, such as a PR
// creation attempt that may already have side effects on the host.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent wraps err so ShouldRequeue reports false for it.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ShouldRequeue classifies a pipeline failure. Provider-permanent errors and
// explicitly marked ones are terminal; everything else is treated as a
// likely-transient environment issue worth a later retry.
func ShouldRequeue(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var ppe *sandbox.PermanentError
	if errors.As(err, &ppe) {
		return false
	}
	return true
}

// FailureHandler finalizes a failed task's status.
type FailureHandler struct {
	store  *taskstore.Store
	logger *slog.Logger
}

// NewFailureHandler creates a FailureHandler backed by the given store.
func NewFailureHandler(store *taskstore.Store, logger *slog.Logger) *FailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureHandler{store: store, logger: logger}
}

// HandleFailure marks the task failed with the captured message and the
// requeue hint derived from the error's classification. Returns the hint.
func (h *FailureHandler) HandleFailure(taskID string, cause error) (requeue bool, err error) {
	requeue = ShouldRequeue(cause)
	if err := h.store.FailTask(taskID, cause.Error(), requeue); err != nil {
		return requeue, fmt.Errorf("mark task %s failed: %w", taskID, err)
	}
	h.logger.Error("task failed", "task_id", taskID, "requeue", requeue, "error", cause)
	return requeue, nil
}
