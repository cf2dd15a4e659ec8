package domain

import "time"

// PRStatus mirrors the state the source-control host reports back
type PRStatus string

const (
	PRDraft PRStatus = "draft"
	PROpen  PRStatus = "open"
)

// PullRequestRecord is the persisted result of a successful publish.
// Created once per issue; publish failures leave no record behind.
type PullRequestRecord struct {
	IssueID      string
	RepoFullName string
	BranchName   string
	Title        string
	Description  string
	PRNumber     int
	PRURL        string
	Status       PRStatus
	CreatedAt    time.Time
}
