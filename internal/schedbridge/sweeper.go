package schedbridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
	"github.com/robfig/cron/v3"
)

// DrainSignaler is satisfied by *Bridge; split out so the sweeper is
// testable without a live scheduler connection.
type DrainSignaler interface {
	SignalDrain(ctx context.Context, limit int) error
}

// Sweeper periodically re-pends failed tasks flagged for requeue. Requeueing
// schedules a brand-new future invocation; it is deliberately distinct from
// the in-step backoff retry inside the sandbox manager.
type Sweeper struct {
	store      *taskstore.Store
	signaler   DrainSignaler
	schedule   cron.Schedule
	maxRetries int
	logger     *slog.Logger

	mu       sync.Mutex
	lastRun  time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a Sweeper running on the given cron expression.
func NewSweeper(store *taskstore.Store, signaler DrainSignaler, cronExpr string, maxRetries int, logger *slog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		signaler:   signaler,
		schedule:   schedule,
		maxRetries: maxRetries,
		logger:     logger,
		lastRun:    time.Now(),
		stopChan:   make(chan struct{}),
	}, nil
}

// ShouldRun reports whether a sweep is due at the given time.
func (s *Sweeper) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.schedule.Next(s.lastRun).After(now)
}

// Sweep requeues eligible failed tasks once and emits a drain hint when any
// were requeued. Returns the number requeued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	n, err := s.store.RequeueFailedTasks(s.maxRetries)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("requeued failed tasks", "count", n)
		if s.signaler != nil {
			if err := s.signaler.SignalDrain(ctx, n); err != nil {
				s.logger.Warn("drain hint after sweep failed", "error", err)
			}
		}
	}
	return n, nil
}

// Start runs sweeps on the configured schedule until ctx is done or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case now := <-ticker.C:
				if s.ShouldRun(now) {
					if _, err := s.Sweep(ctx); err != nil {
						s.logger.Error("requeue sweep failed", "error", err)
					}
				}
			}
		}
	}()
}

// Stop halts the sweep loop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
