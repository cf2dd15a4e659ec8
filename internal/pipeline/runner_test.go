package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/council-orchestrator/internal/council"
	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/pullrequest"
	"github.com/hochfrequenz/council-orchestrator/internal/queue"
	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/council-orchestrator/internal/tools"
	"github.com/stretchr/testify/require"
)

// pipeSession serves scripted exec results keyed by command substring
type pipeSession struct {
	id       string
	commands []string
	results  map[string]sandbox.ExecResult
}

func (s *pipeSession) ID() string { return s.id }
func (s *pipeSession) Run(ctx context.Context, cmd string) (sandbox.ExecResult, error) {
	s.commands = append(s.commands, cmd)
	for key, res := range s.results {
		if strings.Contains(cmd, key) {
			return res, nil
		}
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}
func (s *pipeSession) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (s *pipeSession) WriteFile(ctx context.Context, path, content string) error { return nil }

type pipeProvider struct {
	createCalls    int
	terminateCalls int
	missing        map[string]bool
	results        map[string]sandbox.ExecResult
	sessions       []*pipeSession
	nextID         int
}

func (p *pipeProvider) Create(ctx context.Context, template string, lifetime time.Duration) (string, error) {
	p.createCalls++
	p.nextID++
	return fmt.Sprintf("sbx-%d", p.nextID), nil
}

func (p *pipeProvider) Reconnect(ctx context.Context, id string) (sandbox.Session, error) {
	if p.missing[id] {
		return nil, sandbox.ErrSessionNotFound
	}
	s := &pipeSession{id: id, results: p.results}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *pipeProvider) Terminate(ctx context.Context, id string) error {
	p.terminateCalls++
	return nil
}

// approveInference has every agent vote the scripted decision
type approveInference struct {
	decision string
}

func (f *approveInference) Invoke(ctx context.Context, role council.Role, instruction string, surface *tools.Surface, state *tools.RunState) error {
	_, err := surface.Invoke(ctx, role.Name, "submit_vote", map[string]any{
		"decision": f.decision, "confidence": 0.9, "reasoning": "scripted",
	}, state)
	return err
}

// silentInference never votes
type silentInference struct{}

func (silentInference) Invoke(ctx context.Context, role council.Role, instruction string, surface *tools.Surface, state *tools.RunState) error {
	return nil
}

type pipeHost struct {
	calls int
	err   error
}

func (h *pipeHost) CreatePullRequest(ctx context.Context, req pullrequest.CreateRequest) (*pullrequest.HostPR, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return &pullrequest.HostPR{Number: 77, HTMLURL: "https://example.com/pull/77", Draft: true, Title: req.Title}, nil
}

type harness struct {
	store    *taskstore.Store
	provider *pipeProvider
	host     *pipeHost
	runner   *Runner
}

func newHarness(t *testing.T, inference council.Inference, provider *pipeProvider) *harness {
	t.Helper()
	store, err := taskstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	host := &pipeHost{}
	manager := sandbox.NewManager(provider, "base", time.Hour, nil)
	c := council.New(council.DefaultRoles(), inference, nil)
	q := queue.New(store, nil, nil)
	failures := queue.NewFailureHandler(store, nil)
	publisher := pullrequest.NewPublisher(host, store, nil)

	runner := NewRunner(Config{
		Store:     store,
		Sandboxes: manager,
		Council:   c,
		Queue:     q,
		Failures:  failures,
		Publisher: publisher,
	})

	return &harness{store: store, provider: provider, host: host, runner: runner}
}

func seedIssue(t *testing.T, store *taskstore.Store, sandboxID string) *domain.Issue {
	t.Helper()
	issue := &domain.Issue{
		ID: "issue-42", IssueNumber: 42, RepoFullName: "acme/widgets",
		Title: "Fix login flow", Body: "Users get logged out on refresh",
		Status: domain.IssuePending, SandboxID: sandboxID,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.UpsertIssue(issue))
	return issue
}

func TestHandleEvent_ApproveFlowEnqueuesPullRequest(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, err := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42",
		map[string]any{"instruction": "fix session handling"}, domain.PriorityNormal)
	require.NoError(t, err)

	err = h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID:       task.ID,
		IssueID:      "issue-42",
		RepoFullName: "acme/widgets",
		AccessToken:  "tok123",
	})
	require.NoError(t, err)

	got, err := h.store.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, "council/issue-42-fix-login-flow", got.Result["branch_name"])
	require.Equal(t, "approve", got.Result["decision"])

	// Decision appended to the issue log
	decisions, err := h.store.ListDecisions("issue-42")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, domain.DecisionApprove, decisions[0].Decision)
	require.Equal(t, 3, decisions[0].TotalVotes)

	// Follow-on publish task at elevated priority
	pending, err := h.store.ListPendingTasks(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.TaskTypeCreatePullRequest, pending[0].Type)
	require.Equal(t, domain.PriorityElevated, pending[0].Priority)

	// Sandbox released exactly once
	require.Equal(t, 1, provider.terminateCalls)
}

func TestHandleEvent_NoCredentialSkipsFollowOn(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	})
	require.NoError(t, err)

	pending, _ := h.store.ListPendingTasks(10)
	require.Empty(t, pending, "no PR follow-on without a credential")
}

func TestHandleEvent_InstallFailureRequeues(t *testing.T) {
	provider := &pipeProvider{results: map[string]sandbox.ExecResult{
		"test -f repo/package-lock.json": {ExitCode: 0},
		"npm ci":                         {ExitCode: 1, Stderr: "network error"},
	}}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	})
	require.Error(t, err)

	got, _ := h.store.GetTask(task.ID)
	require.Equal(t, domain.TaskFailed, got.Status)
	require.True(t, got.Requeue, "install failure must be requeueable")

	// Cleanup still ran exactly once despite the failure
	require.Equal(t, 1, provider.terminateCalls)
}

func TestHandleEvent_ExpiredSessionReplacedOnce(t *testing.T) {
	provider := &pipeProvider{missing: map[string]bool{"sbx-stale": true}}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "sbx-stale")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	})
	require.NoError(t, err)

	// Exactly one new session created and persisted as the session of record
	require.Equal(t, 1, provider.createCalls)
	issue, err := h.store.GetIssue("issue-42")
	require.NoError(t, err)
	require.Equal(t, "sbx-1", issue.SandboxID)
}

func TestHandleEvent_ReplaySkipsCompletedSteps(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)

	// First run completes everything
	require.NoError(t, h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	}))
	decisions, _ := h.store.ListDecisions("issue-42")
	require.Len(t, decisions, 1)

	// Force a replay by re-pending the task; memoized steps must not re-run
	require.NoError(t, h.store.UpdateTaskStatus(task.ID, domain.TaskPending))
	require.NoError(t, h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	}))

	// The council step was skipped, so no second decision was appended
	decisions, _ = h.store.ListDecisions("issue-42")
	require.Len(t, decisions, 1, "replay must consume the memoized council result")

	// No clone command issued on the replayed run's session
	replaySession := provider.sessions[len(provider.sessions)-1]
	for _, cmd := range replaySession.commands {
		require.NotContains(t, cmd, "git clone", "clone re-ran on replay")
	}
}

func TestHandleEvent_ZeroVotesResolvesToRevise(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, silentInference{}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets", AccessToken: "tok",
	})
	require.NoError(t, err)

	got, _ := h.store.GetTask(task.ID)
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, "revise", got.Result["decision"])

	decisions, _ := h.store.ListDecisions("issue-42")
	require.Len(t, decisions, 1)
	require.Equal(t, "no votes recorded", decisions[0].Note)

	// Revise re-pends the issue and enqueues no PR
	issue, _ := h.store.GetIssue("issue-42")
	require.Equal(t, domain.IssuePending, issue.Status)
	pending, _ := h.store.ListPendingTasks(10)
	require.Empty(t, pending)
}

func TestHandleEvent_RejectFailsIssue(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "reject"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	require.NoError(t, h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	}))

	issue, _ := h.store.GetIssue("issue-42")
	require.Equal(t, domain.IssueFailed, issue.Status)
}

func TestHandleEvent_PublishTask(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-42", map[string]any{
		"repo":        "acme/widgets",
		"branch_name": "council/issue-42-fix-login-flow",
		"base":        "main",
		"summary":     "Fixes session handling",
	}, domain.PriorityElevated)

	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets", AccessToken: "tok",
	})
	require.NoError(t, err)
	require.Equal(t, 1, h.host.calls)

	got, _ := h.store.GetTask(task.ID)
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, 77.0, got.Result["pr_number"])

	pr, err := h.store.GetPullRequest("issue-42")
	require.NoError(t, err)
	require.Equal(t, 77, pr.PRNumber)

	// No sandbox involved in a publish task
	require.Equal(t, 0, provider.createCalls)
}

func TestHandleEvent_PublishFailureNotRequeued(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	h.host.err = errors.New("422 validation failed")
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-42", map[string]any{
		"repo": "acme/widgets", "branch_name": "council/issue-42-fix-login-flow",
	}, domain.PriorityElevated)

	err := h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets", AccessToken: "tok",
	})
	require.Error(t, err)

	got, _ := h.store.GetTask(task.ID)
	require.Equal(t, domain.TaskFailed, got.Status)
	require.False(t, got.Requeue, "publish failures must not auto-retry")
}

func TestHandleEvent_TerminalTaskSkipped(t *testing.T) {
	provider := &pipeProvider{}
	h := newHarness(t, &approveInference{decision: "approve"}, provider)
	seedIssue(t, h.store, "")

	task, _ := h.store.EnqueueTask(domain.TaskTypeCodeChange, "issue-42", nil, domain.PriorityNormal)
	require.NoError(t, h.store.CompleteTask(task.ID, nil))

	require.NoError(t, h.runner.HandleEvent(context.Background(), domain.TriggerEvent{
		TaskID: task.ID, IssueID: "issue-42", RepoFullName: "acme/widgets",
	}))
	require.Equal(t, 0, provider.createCalls, "terminal task must not touch the provider")
}
