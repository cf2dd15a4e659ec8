package domain

import (
	"fmt"
	"time"
)

// IssueStatus represents the lifecycle state of a tracked issue
type IssueStatus string

const (
	IssuePending    IssueStatus = "pending"
	IssueInProgress IssueStatus = "in_progress"
	IssueCompleted  IssueStatus = "completed"
	IssueFailed     IssueStatus = "failed"
)

// Issue is the durable record a code-change pipeline works against.
// SandboxID binds the issue to its current compute session; the binding is
// replaced whenever a stale session is swapped for a new one.
type Issue struct {
	ID           string
	IssueNumber  int
	RepoFullName string
	Title        string
	Body         string
	Status       IssueStatus
	SandboxID    string
	BranchName   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIssue creates a pending issue under its canonical id, repo#number, so
// re-enqueueing the same issue updates the existing record.
func NewIssue(repoFullName string, number int, title, body string) *Issue {
	now := time.Now()
	return &Issue{
		ID:           fmt.Sprintf("%s#%d", repoFullName, number),
		IssueNumber:  number,
		RepoFullName: repoFullName,
		Title:        title,
		Body:         body,
		Status:       IssuePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DecisionLogEntry is one appended consensus outcome for an issue.
// The log is append-only.
type DecisionLogEntry struct {
	ID         int
	IssueID    string
	Decision   Decision
	AgreeCount int
	TotalVotes int
	Note       string
	Votes      []Vote
	CreatedAt  time.Time
}
