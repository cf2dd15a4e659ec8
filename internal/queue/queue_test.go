package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
)

type recordingSignaler struct {
	limits []int
	err    error
}

func (s *recordingSignaler) SignalDrain(ctx context.Context, limit int) error {
	s.limits = append(s.limits, limit)
	return s.err
}

func newTestStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestQueue_EnqueueCreatesPendingTask(t *testing.T) {
	store := newTestStore(t)
	q := New(store, nil, nil)

	task, err := q.Enqueue(domain.TaskTypeCreatePullRequest, "issue-1",
		map[string]any{"branch": "council/issue-1-fix"}, domain.PriorityElevated)
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Priority != domain.PriorityElevated {
		t.Errorf("Priority = %d, want elevated", got.Priority)
	}
}

func TestQueue_SignalDrainIsAdvisory(t *testing.T) {
	store := newTestStore(t)
	signaler := &recordingSignaler{err: errors.New("scheduler unreachable")}
	q := New(store, signaler, nil)

	// Must not panic or propagate the signaler error
	q.SignalDrain(context.Background(), 5)

	if len(signaler.limits) != 1 || signaler.limits[0] != 5 {
		t.Errorf("limits = %v, want [5]", signaler.limits)
	}
}

func TestQueue_SignalDrainWithoutSignaler(t *testing.T) {
	q := New(newTestStore(t), nil, nil)
	q.SignalDrain(context.Background(), 3)
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", errors.New("clone exited 128"), true},
		{"transient provider", &sandbox.TransientError{Err: errors.New("blip")}, true},
		{"permanent provider", &sandbox.PermanentError{Err: errors.New("quota")}, false},
		{"marked permanent", MarkPermanent(errors.New("pr create failed")), false},
		{"wrapped marked permanent", errors.Join(errors.New("outer"), MarkPermanent(errors.New("inner"))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRequeue(tt.err); got != tt.want {
				t.Errorf("ShouldRequeue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureHandler_InstallFailureRequeues(t *testing.T) {
	store := newTestStore(t)
	h := NewFailureHandler(store, nil)

	task, _ := store.EnqueueTask(domain.TaskTypeCodeChange, "issue-2", nil, domain.PriorityNormal)
	requeue, err := h.HandleFailure(task.ID, errors.New("install via package.json exited 1"))
	if err != nil {
		t.Fatal(err)
	}
	if !requeue {
		t.Error("requeue = false, want true for install failure")
	}

	got, _ := store.GetTask(task.ID)
	if got.Status != domain.TaskFailed || !got.Requeue {
		t.Errorf("task = %+v, want failed with requeue", got)
	}
}

func TestFailureHandler_PublishFailureDoesNotRequeue(t *testing.T) {
	store := newTestStore(t)
	h := NewFailureHandler(store, nil)

	task, _ := store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-3", nil, domain.PriorityElevated)
	requeue, err := h.HandleFailure(task.ID, MarkPermanent(errors.New("createPullRequest: 422")))
	if err != nil {
		t.Fatal(err)
	}
	if requeue {
		t.Error("requeue = true, want false for publish failure")
	}

	got, _ := store.GetTask(task.ID)
	if got.Requeue {
		t.Error("Requeue persisted as true, want false")
	}
}
