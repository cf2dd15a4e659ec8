// Package pullrequest turns an approved, completed change into a
// source-control change request.
package pullrequest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/queue"
)

// CreateRequest is what the publisher sends to the host.
type CreateRequest struct {
	RepoFullName string
	Title        string
	Head         string
	Base         string
	Body         string
	Draft        bool
	Token        string
}

// HostPR is the host's authoritative response. Draft comes from the host,
// not from the request's intent.
type HostPR struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Draft   bool   `json:"draft"`
	Title   string `json:"title"`
}

// Host is the source-control host the publisher calls.
type Host interface {
	CreatePullRequest(ctx context.Context, req CreateRequest) (*HostPR, error)
}

// Store is the slice of the task store the publisher writes to.
type Store interface {
	GetIssue(id string) (*domain.Issue, error)
	SavePullRequest(record *domain.PullRequestRecord) error
	UpdateIssueStatus(id string, status domain.IssueStatus) error
	CompleteTask(id string, result map[string]any) error
	FailTask(id, errorMessage string, requeue bool) error
}

// PublishInput carries everything one publish needs.
type PublishInput struct {
	IssueID    string
	TaskID     string // optional; when set the task is finalized too
	Repo       string
	BranchName string
	Base       string
	Token      string
	Title      string // optional; derived from the issue when empty
	Summary    string
	WorkItems  []string
	Testing    string
}

// Publisher creates change requests and records the outcome.
type Publisher struct {
	host   Host
	store  Store
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(host Host, store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{host: host, store: store, logger: logger}
}

// BuildTitle derives a deterministic PR title from an issue.
func BuildTitle(issueNumber int, issueTitle string) string {
	return fmt.Sprintf("council: %s (#%d)", issueTitle, issueNumber)
}

// BuildDescription assembles the PR body from whichever sections have
// source data. Absent data produces no heading at all.
func BuildDescription(summary string, workItems []string, testing string) string {
	var sections []string

	if summary != "" {
		sections = append(sections, "## Summary\n"+summary)
	}
	if len(workItems) > 0 {
		var b strings.Builder
		b.WriteString("## Work Items\n")
		for _, item := range workItems {
			b.WriteString("- " + item + "\n")
		}
		sections = append(sections, strings.TrimSuffix(b.String(), "\n"))
	}
	if testing != "" {
		sections = append(sections, "## Testing\n"+testing)
	}

	return strings.Join(sections, "\n\n")
}

// Publish creates the change request on the host, persists the record, and
// finalizes the issue and task. PR creation is never auto-retried: any
// failure marks the task failed with requeue=false and is returned to the
// caller.
func (p *Publisher) Publish(ctx context.Context, input PublishInput) (*domain.PullRequestRecord, error) {
	issue, err := p.store.GetIssue(input.IssueID)
	if err != nil {
		return nil, p.fail(input.TaskID, fmt.Errorf("load issue %s: %w", input.IssueID, err))
	}

	title := input.Title
	if title == "" {
		title = BuildTitle(issue.IssueNumber, issue.Title)
	}
	base := input.Base
	if base == "" {
		base = "main"
	}

	hostPR, err := p.host.CreatePullRequest(ctx, CreateRequest{
		RepoFullName: input.Repo,
		Title:        title,
		Head:         input.BranchName,
		Base:         base,
		Body:         BuildDescription(input.Summary, input.WorkItems, input.Testing),
		Draft:        true,
		Token:        input.Token,
	})
	if err != nil {
		return nil, p.fail(input.TaskID, fmt.Errorf("create pull request: %w", err))
	}

	status := domain.PROpen
	if hostPR.Draft {
		status = domain.PRDraft
	}

	record := &domain.PullRequestRecord{
		IssueID:      input.IssueID,
		RepoFullName: input.Repo,
		BranchName:   input.BranchName,
		Title:        hostPR.Title,
		Description:  BuildDescription(input.Summary, input.WorkItems, input.Testing),
		PRNumber:     hostPR.Number,
		PRURL:        hostPR.HTMLURL,
		Status:       status,
		CreatedAt:    time.Now(),
	}
	if err := p.store.SavePullRequest(record); err != nil {
		return nil, p.fail(input.TaskID, fmt.Errorf("save pull request record: %w", err))
	}
	if err := p.store.UpdateIssueStatus(input.IssueID, domain.IssueCompleted); err != nil {
		return nil, p.fail(input.TaskID, fmt.Errorf("complete issue %s: %w", input.IssueID, err))
	}
	if input.TaskID != "" {
		if err := p.store.CompleteTask(input.TaskID, map[string]any{
			"pr_number": hostPR.Number,
			"url":       hostPR.HTMLURL,
		}); err != nil {
			return nil, p.fail(input.TaskID, fmt.Errorf("complete task %s: %w", input.TaskID, err))
		}
	}

	p.logger.Info("pull request published", "issue_id", input.IssueID, "pr_number", hostPR.Number, "url", hostPR.HTMLURL)
	return record, nil
}

// fail marks the task failed with requeue=false and returns the cause marked
// permanent, so an enclosing failure handler never requeues a publish.
func (p *Publisher) fail(taskID string, cause error) error {
	if taskID != "" {
		if err := p.store.FailTask(taskID, cause.Error(), false); err != nil {
			p.logger.Error("marking publish task failed", "task_id", taskID, "error", err)
		}
	}
	return queue.MarkPermanent(cause)
}
