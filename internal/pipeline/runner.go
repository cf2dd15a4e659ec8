// Package pipeline orchestrates one task end to end: sandbox acquisition,
// git preparation, the council run, consensus, follow-on enqueueing, and
// guaranteed teardown. Each named step's result is persisted so a replayed
// task resumes from the first not-yet-completed step instead of re-running
// side effects.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hochfrequenz/council-orchestrator/internal/consensus"
	"github.com/hochfrequenz/council-orchestrator/internal/council"
	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/gitops"
	"github.com/hochfrequenz/council-orchestrator/internal/notify"
	"github.com/hochfrequenz/council-orchestrator/internal/pullrequest"
	"github.com/hochfrequenz/council-orchestrator/internal/queue"
	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
)

// runNamespace is a fixed UUID namespace for deriving replay-stable run ids
// from task ids, so a replayed task logs under the same run id.
var runNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Runner executes pipelines against externally persisted records.
type Runner struct {
	store     *taskstore.Store
	sandboxes *sandbox.Manager
	council   *council.Council
	queue     *queue.Queue
	failures  *queue.FailureHandler
	publisher *pullrequest.Publisher
	notifier  notify.Notifier
	logger    *slog.Logger
}

// Config bundles the Runner's dependencies. Every external client is
// constructed once and injected so tests can substitute fakes.
type Config struct {
	Store     *taskstore.Store
	Sandboxes *sandbox.Manager
	Council   *council.Council
	Queue     *queue.Queue
	Failures  *queue.FailureHandler
	Publisher *pullrequest.Publisher
	Notifier  notify.Notifier
	Logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NoopNotifier{}
	}
	return &Runner{
		store:     cfg.Store,
		sandboxes: cfg.Sandboxes,
		council:   cfg.Council,
		queue:     cfg.Queue,
		failures:  cfg.Failures,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}
}

// HandleEvent runs the pipeline for the task named by the inbound event.
// The task's terminal status is always written, whatever happens inside.
func (r *Runner) HandleEvent(ctx context.Context, event domain.TriggerEvent) error {
	task, err := r.store.GetTask(event.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", event.TaskID, err)
	}
	if task.Terminal() {
		r.logger.Info("task already terminal, skipping", "task_id", task.ID, "status", task.Status)
		return nil
	}

	if err := r.store.UpdateTaskStatus(task.ID, domain.TaskRunning); err != nil {
		// Observability, not correctness
		r.logger.Warn("marking task running failed", "task_id", task.ID, "error", err)
	}

	runID := uuid.NewSHA1(runNamespace, []byte(task.ID))
	logger := r.logger.With("task_id", task.ID, "run_id", runID.String())

	switch task.Type {
	case domain.TaskTypeCodeChange:
		err = r.runCodeChange(ctx, task, event, logger)
	case domain.TaskTypeCreatePullRequest:
		err = r.runPublish(ctx, task, event, logger)
	default:
		err = queue.MarkPermanent(fmt.Errorf("unknown task type %q", task.Type))
	}

	if err != nil {
		if _, ferr := r.failures.HandleFailure(task.ID, err); ferr != nil {
			logger.Error("finalizing failed task", "error", ferr)
		}
		return err
	}
	return nil
}

// step runs fn once per (task, name): a memoized result from a previous
// invocation is returned without re-running the side effect.
func (r *Runner) step(taskID, name string, fn func() (map[string]any, error)) (map[string]any, error) {
	if result, found, err := r.store.GetStepResult(taskID, name); err != nil {
		return nil, fmt.Errorf("step %s: load memo: %w", name, err)
	} else if found {
		return result, nil
	}

	result, err := fn()
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	if err := r.store.PutStepResult(taskID, name, result); err != nil {
		return nil, fmt.Errorf("step %s: persist memo: %w", name, err)
	}
	return result, nil
}

func (r *Runner) runCodeChange(ctx context.Context, task *domain.Task, event domain.TriggerEvent, logger *slog.Logger) error {
	issue, err := r.store.GetIssue(event.IssueID)
	if err != nil {
		return fmt.Errorf("load issue %s: %w", event.IssueID, err)
	}

	// Best-effort progress marker
	if err := r.store.UpdateIssueStatus(issue.ID, domain.IssueInProgress); err != nil {
		logger.Warn("marking issue in_progress failed", "issue_id", issue.ID, "error", err)
	}

	handle, replaced, err := r.sandboxes.Acquire(ctx, issue.SandboxID)
	if err != nil {
		return fmt.Errorf("acquire sandbox: %w", err)
	}
	// Guaranteed teardown, independent of everything below
	defer r.sandboxes.Release(ctx, handle)

	if replaced || issue.SandboxID == "" {
		if err := r.store.UpdateIssueSandbox(issue.ID, handle.ID()); err != nil {
			return fmt.Errorf("persist sandbox binding: %w", err)
		}
	}

	ws := gitops.NewWorkspace(handle.Session())

	if _, err := r.step(task.ID, "clone", func() (map[string]any, error) {
		return nil, ws.Clone(ctx, event.RepoFullName, event.AccessToken)
	}); err != nil {
		return err
	}

	branchResult, err := r.step(task.ID, "branch", func() (map[string]any, error) {
		branch := event.BranchName
		if branch == "" {
			branch = gitops.BranchName(issue.IssueNumber, issue.Title)
		}
		if err := ws.CreateBranch(ctx, branch); err != nil {
			return nil, err
		}
		if err := r.store.UpdateIssueBranch(issue.ID, branch); err != nil {
			return nil, err
		}
		return map[string]any{"branch_name": branch}, nil
	})
	if err != nil {
		return err
	}
	branch, _ := branchResult["branch_name"].(string)

	if _, err := r.step(task.ID, "install_deps", func() (map[string]any, error) {
		manifest, err := ws.InstallDeps(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"manifest": manifest}, nil
	}); err != nil {
		return err
	}

	councilResult, err := r.step(task.ID, "council", func() (map[string]any, error) {
		instruction := event.Instruction
		if instruction == "" {
			instruction = issue.Body
		}
		state, err := r.council.Run(ctx, handle.Session(), instruction)
		if err != nil {
			return nil, err
		}

		// Union of explicitly recorded votes and transcript-recovered ones,
		// so no vote is lost regardless of which path captured it
		merged := consensus.MergeVoteSources(
			consensus.ExtractVotesFromHistory(state.Transcript()),
			state.Votes(),
		)
		decision := consensus.GetConsensus(merged)

		if err := r.store.AppendDecision(issue.ID, decision); err != nil {
			return nil, err
		}
		return map[string]any{
			"decision":      string(decision.FinalDecision),
			"agree_count":   float64(decision.AgreeCount),
			"total_votes":   float64(decision.TotalVotes),
			"written_files": toAnySlice(state.WrittenFiles()),
		}, nil
	})
	if err != nil {
		return err
	}
	decision, _ := councilResult["decision"].(string)

	statusResult, err := r.step(task.ID, "status", func() (map[string]any, error) {
		snapshot, err := ws.Status(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status_snapshot": snapshot}, nil
	})
	if err != nil {
		return err
	}
	snapshot, _ := statusResult["status_snapshot"].(string)

	if err := r.store.CompleteTask(task.ID, map[string]any{
		"branch_name":     branch,
		"status_snapshot": snapshot,
		"decision":        decision,
	}); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	r.finalizeDecision(ctx, task, event, issue, branch, snapshot, councilResult, logger)
	return nil
}

// finalizeDecision routes the consensus outcome: approval enqueues the PR
// follow-on, rejection fails the issue, revision re-pends it for another
// round. Errors here are logged, never returned: the code-change task itself
// already completed.
func (r *Runner) finalizeDecision(ctx context.Context, task *domain.Task, event domain.TriggerEvent, issue *domain.Issue, branch, snapshot string, councilResult map[string]any, logger *slog.Logger) {
	decision, _ := councilResult["decision"].(string)

	r.notifier.Send(notify.Notification{
		Title:   fmt.Sprintf("Council decided: %s", decision),
		Message: fmt.Sprintf("issue %s (#%d) on %s", issue.ID, issue.IssueNumber, issue.RepoFullName),
		Type:    notify.TypeForDecision(domain.Decision(decision)),
		TaskID:  task.ID,
	})

	switch domain.Decision(decision) {
	case domain.DecisionApprove:
		if event.AccessToken == "" {
			logger.Info("approved but no credential, skipping pull request follow-on", "issue_id", issue.ID)
			return
		}
		payload := map[string]any{
			"repo":        event.RepoFullName,
			"branch_name": branch,
			"base":        event.BaseBranch,
			"summary":     fmt.Sprintf("Council-approved change for #%d: %s", issue.IssueNumber, issue.Title),
			"work_items":  councilResult["written_files"],
			"testing":     snapshot,
		}
		followOn, err := r.queue.Enqueue(domain.TaskTypeCreatePullRequest, issue.ID, payload, domain.PriorityElevated)
		if err != nil {
			logger.Error("enqueue pull request follow-on", "error", err)
			return
		}
		r.queue.SignalDrain(ctx, 1)
		logger.Info("pull request follow-on enqueued", "follow_on_id", followOn.ID)

	case domain.DecisionReject:
		if err := r.store.UpdateIssueStatus(issue.ID, domain.IssueFailed); err != nil {
			logger.Error("marking issue failed", "error", err)
		}

	default: // revise, including the zero-vote case
		if err := r.store.UpdateIssueStatus(issue.ID, domain.IssuePending); err != nil {
			logger.Error("re-pending issue for revision", "error", err)
		}
	}
}

func (r *Runner) runPublish(ctx context.Context, task *domain.Task, event domain.TriggerEvent, logger *slog.Logger) error {
	branch, _ := task.Payload["branch_name"].(string)
	base, _ := task.Payload["base"].(string)
	summary, _ := task.Payload["summary"].(string)
	testing, _ := task.Payload["testing"].(string)
	repo, _ := task.Payload["repo"].(string)
	if repo == "" {
		repo = event.RepoFullName
	}

	var workItems []string
	if raw, ok := task.Payload["work_items"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				workItems = append(workItems, s)
			}
		}
	}

	record, err := r.publisher.Publish(ctx, pullrequest.PublishInput{
		IssueID:    task.IssueID,
		TaskID:     task.ID,
		Repo:       repo,
		BranchName: branch,
		Base:       base,
		Token:      event.AccessToken,
		Summary:    summary,
		WorkItems:  workItems,
		Testing:    testing,
	})
	if err != nil {
		// Publisher already finalized the task; re-raise for the caller
		r.notifier.Send(notify.Notification{
			Title:   "Pull request publish failed",
			Message: err.Error(),
			Type:    notify.NotifyError,
			TaskID:  task.ID,
		})
		return err
	}

	r.notifier.Send(notify.Notification{
		Title:   fmt.Sprintf("Pull request #%d opened", record.PRNumber),
		Message: record.Title,
		Type:    notify.NotifySuccess,
		TaskID:  task.ID,
		PRURL:   record.PRURL,
	})
	logger.Info("publish complete", "pr_number", record.PRNumber)
	return nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
