// Package taskstore provides the SQLite-backed record store the orchestration
// pipeline coordinates through. All mutations are atomic and keyed by id; no
// live object ever crosses a step boundary, only these records do.
package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for tasks, issues, decisions,
// pull requests, and memoized step results.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// EnqueueTask creates a new pending task and returns it. An empty id is
// replaced with a fresh UUID.
func (s *Store) EnqueueTask(taskType domain.TaskType, issueID string, payload map[string]any, priority domain.Priority) (*domain.Task, error) {
	task := &domain.Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		IssueID:   issueID,
		Payload:   payload,
		Priority:  priority,
		Status:    domain.TaskPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, type, issue_id, payload, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, string(task.Type), task.IssueID, string(payloadJSON), int(task.Priority), string(task.Status), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, type, issue_id, payload, priority, status, retry_count, requeue, error_message, result, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// UpdateTaskStatus updates a task's status
func (s *Store) UpdateTaskStatus(id string, status domain.TaskStatus) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// CompleteTask marks a task completed with its result payload
func (s *Store) CompleteTask(id string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(domain.TaskCompleted), string(resultJSON), time.Now(), id)
	return err
}

// FailTask marks a task failed with the underlying error message and the
// requeue hint: true means likely-transient, try again later.
func (s *Store) FailTask(id, errorMessage string, requeue bool) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, error_message = ?, requeue = ?, updated_at = ? WHERE id = ?`,
		string(domain.TaskFailed), errorMessage, requeue, time.Now(), id)
	return err
}

// ListPendingTasks returns up to limit pending tasks, highest priority first.
func (s *Store) ListPendingTasks(limit int) ([]*domain.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, type, issue_id, payload, priority, status, retry_count, requeue, error_message, result, created_at, updated_at
		FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC LIMIT ?
	`, string(domain.TaskPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// RequeueFailedTasks re-pends failed tasks flagged for requeue that are still
// below the retry ceiling, incrementing their retry count. Returns how many
// tasks were requeued.
func (s *Store) RequeueFailedTasks(maxRetries int) (int, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE status = ? AND requeue = TRUE AND retry_count < ?
	`, string(domain.TaskPending), time.Now(), string(domain.TaskFailed), maxRetries)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts() (map[domain.TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// ListIssues returns all tracked issues, newest first.
func (s *Store) ListIssues() ([]*domain.Issue, error) {
	rows, err := s.db.Query(`
		SELECT id, issue_number, repo_full_name, title, body, status, sandbox_id, branch_name, created_at, updated_at
		FROM issues ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Issue
	for rows.Next() {
		var issue domain.Issue
		var status string
		var body, sandboxID, branchName sql.NullString
		if err := rows.Scan(&issue.ID, &issue.IssueNumber, &issue.RepoFullName, &issue.Title,
			&body, &status, &sandboxID, &branchName, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
			return nil, err
		}
		issue.Status = domain.IssueStatus(status)
		issue.Body = body.String
		issue.SandboxID = sandboxID.String
		issue.BranchName = branchName.String
		out = append(out, &issue)
	}
	return out, rows.Err()
}

// UpsertIssue inserts or updates an issue
func (s *Store) UpsertIssue(issue *domain.Issue) error {
	_, err := s.db.Exec(`
		INSERT INTO issues (id, issue_number, repo_full_name, title, body, status, sandbox_id, branch_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			status = excluded.status,
			sandbox_id = excluded.sandbox_id,
			branch_name = excluded.branch_name,
			updated_at = excluded.updated_at
	`, issue.ID, issue.IssueNumber, issue.RepoFullName, issue.Title, issue.Body,
		string(issue.Status), issue.SandboxID, issue.BranchName, issue.CreatedAt, issue.UpdatedAt)
	return err
}

// GetIssue retrieves an issue by ID
func (s *Store) GetIssue(id string) (*domain.Issue, error) {
	var issue domain.Issue
	var status string
	var body, sandboxID, branchName sql.NullString

	err := s.db.QueryRow(`
		SELECT id, issue_number, repo_full_name, title, body, status, sandbox_id, branch_name, created_at, updated_at
		FROM issues WHERE id = ?
	`, id).Scan(&issue.ID, &issue.IssueNumber, &issue.RepoFullName, &issue.Title,
		&body, &status, &sandboxID, &branchName, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	issue.Status = domain.IssueStatus(status)
	issue.Body = body.String
	issue.SandboxID = sandboxID.String
	issue.BranchName = branchName.String
	return &issue, nil
}

// UpdateIssueStatus updates an issue's status
func (s *Store) UpdateIssueStatus(id string, status domain.IssueStatus) error {
	_, err := s.db.Exec(`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// UpdateIssueSandbox persists a new session id as the issue's session of
// record, replacing whatever was bound before.
func (s *Store) UpdateIssueSandbox(id, sandboxID string) error {
	_, err := s.db.Exec(`UPDATE issues SET sandbox_id = ?, updated_at = ? WHERE id = ?`,
		sandboxID, time.Now(), id)
	return err
}

// UpdateIssueBranch records the branch created for an issue
func (s *Store) UpdateIssueBranch(id, branchName string) error {
	_, err := s.db.Exec(`UPDATE issues SET branch_name = ?, updated_at = ? WHERE id = ?`,
		branchName, time.Now(), id)
	return err
}

// AppendDecision appends a consensus outcome to an issue's decision log.
// The log is append-only; entries are never updated or removed.
func (s *Store) AppendDecision(issueID string, decision domain.ConsensusDecision) error {
	votesJSON, err := json.Marshal(decision.Votes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO decision_log (issue_id, decision, agree_count, total_votes, note, votes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, issueID, string(decision.FinalDecision), decision.AgreeCount, decision.TotalVotes,
		decision.OrchestratorNote, string(votesJSON))
	return err
}

// ListDecisions returns an issue's decision log oldest first
func (s *Store) ListDecisions(issueID string) ([]*domain.DecisionLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, issue_id, decision, agree_count, total_votes, note, votes, created_at
		FROM decision_log WHERE issue_id = ? ORDER BY id ASC
	`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.DecisionLogEntry
	for rows.Next() {
		var e domain.DecisionLogEntry
		var decision string
		var note, votesJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.IssueID, &decision, &e.AgreeCount, &e.TotalVotes, &note, &votesJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Decision = domain.Decision(decision)
		e.Note = note.String
		if votesJSON.Valid && votesJSON.String != "" && votesJSON.String != "null" {
			if err := json.Unmarshal([]byte(votesJSON.String), &e.Votes); err != nil {
				return nil, err
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SavePullRequest persists the record of a successful publish
func (s *Store) SavePullRequest(pr *domain.PullRequestRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO pull_requests (issue_id, repo_full_name, branch_name, title, description, pr_number, pr_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pr.IssueID, pr.RepoFullName, pr.BranchName, pr.Title, pr.Description,
		pr.PRNumber, pr.PRURL, string(pr.Status), pr.CreatedAt)
	return err
}

// GetPullRequest retrieves the PR record for an issue
func (s *Store) GetPullRequest(issueID string) (*domain.PullRequestRecord, error) {
	var pr domain.PullRequestRecord
	var status string
	err := s.db.QueryRow(`
		SELECT issue_id, repo_full_name, branch_name, title, description, pr_number, pr_url, status, created_at
		FROM pull_requests WHERE issue_id = ?
	`, issueID).Scan(&pr.IssueID, &pr.RepoFullName, &pr.BranchName, &pr.Title,
		&pr.Description, &pr.PRNumber, &pr.PRURL, &status, &pr.CreatedAt)
	if err != nil {
		return nil, err
	}
	pr.Status = domain.PRStatus(status)
	return &pr, nil
}

// GetStepResult returns the memoized result of a completed step, or found =
// false when the step has not completed yet.
func (s *Store) GetStepResult(taskID, stepName string) (map[string]any, bool, error) {
	var resultJSON sql.NullString
	err := s.db.QueryRow(`SELECT result FROM step_results WHERE task_id = ? AND step_name = ?`,
		taskID, stepName).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	result := make(map[string]any)
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, false, err
		}
	}
	return result, true, nil
}

// PutStepResult records a completed step's result so a replayed task skips
// the step and consumes the recorded result instead.
func (s *Store) PutStepResult(taskID, stepName string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO step_results (task_id, step_name, result)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id, step_name) DO UPDATE SET result = excluded.result
	`, taskID, stepName, string(resultJSON))
	return err
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	var task domain.Task
	var taskType, status string
	var issueID, payloadJSON, errorMessage, resultJSON sql.NullString
	var priority int

	err := row.Scan(&task.ID, &taskType, &issueID, &payloadJSON, &priority, &status,
		&task.RetryCount, &task.Requeue, &errorMessage, &resultJSON, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fillTask(&task, taskType, status, issueID, payloadJSON, errorMessage, resultJSON, priority)
}

func scanTaskRows(rows *sql.Rows) (*domain.Task, error) {
	var task domain.Task
	var taskType, status string
	var issueID, payloadJSON, errorMessage, resultJSON sql.NullString
	var priority int

	err := rows.Scan(&task.ID, &taskType, &issueID, &payloadJSON, &priority, &status,
		&task.RetryCount, &task.Requeue, &errorMessage, &resultJSON, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return fillTask(&task, taskType, status, issueID, payloadJSON, errorMessage, resultJSON, priority)
}

func fillTask(task *domain.Task, taskType, status string, issueID, payloadJSON, errorMessage, resultJSON sql.NullString, priority int) (*domain.Task, error) {
	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.IssueID = issueID.String
	task.ErrorMessage = errorMessage.String
	task.Priority = domain.Priority(priority)

	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &task.Payload); err != nil {
			return nil, err
		}
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultJSON.String), &task.Result); err != nil {
			return nil, err
		}
	}
	return task, nil
}
