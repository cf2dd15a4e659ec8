package pullrequest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/queue"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
)

type fakeHost struct {
	req *CreateRequest
	pr  *HostPR
	err error
}

func (h *fakeHost) CreatePullRequest(ctx context.Context, req CreateRequest) (*HostPR, error) {
	h.req = &req
	if h.err != nil {
		return nil, h.err
	}
	return h.pr, nil
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

func seedIssue(t *testing.T, store *taskstore.Store) *domain.Issue {
	t.Helper()
	issue := &domain.Issue{
		ID: "issue-5", IssueNumber: 5, RepoFullName: "acme/widgets",
		Title: "Improve caching", Status: domain.IssueInProgress,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.UpsertIssue(issue); err != nil {
		t.Fatal(err)
	}
	return issue
}

func TestBuildDescription_OmitsEmptySections(t *testing.T) {
	tests := []struct {
		name      string
		summary   string
		workItems []string
		testing   string
		contains  []string
		excludes  []string
	}{
		{
			name:     "all sections",
			summary:  "Adds caching", workItems: []string{"cache layer", "invalidation"}, testing: "go test ./...",
			contains: []string{"## Summary", "## Work Items", "- cache layer", "## Testing"},
		},
		{
			name:     "no testing notes",
			summary:  "Adds caching",
			contains: []string{"## Summary"},
			excludes: []string{"## Testing", "## Work Items"},
		},
		{
			name:     "nothing supplied",
			excludes: []string{"##"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDescription(tt.summary, tt.workItems, tt.testing)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("description missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("description has empty heading %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestBuildTitle_Deterministic(t *testing.T) {
	first := BuildTitle(5, "Improve caching")
	if first != "council: Improve caching (#5)" {
		t.Errorf("title = %q", first)
	}
	if again := BuildTitle(5, "Improve caching"); again != first {
		t.Errorf("title not deterministic: %q vs %q", again, first)
	}
}

func TestPublish_Success(t *testing.T) {
	store := newTestStore(t)
	seedIssue(t, store)
	task, _ := store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-5", nil, domain.PriorityElevated)

	host := &fakeHost{pr: &HostPR{Number: 101, HTMLURL: "https://example.com/pull/101", Draft: true, Title: "council: Improve caching (#5)"}}
	p := NewPublisher(host, store, nil)

	record, err := p.Publish(context.Background(), PublishInput{
		IssueID:    "issue-5",
		TaskID:     task.ID,
		Repo:       "acme/widgets",
		BranchName: "council/issue-5-improve-caching",
		Summary:    "Adds a cache layer",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Draft status comes from the host response
	if record.Status != domain.PRDraft {
		t.Errorf("Status = %q, want draft (host authoritative)", record.Status)
	}

	saved, err := store.GetPullRequest("issue-5")
	if err != nil {
		t.Fatal(err)
	}
	if saved.PRNumber != 101 {
		t.Errorf("PRNumber = %d, want 101", saved.PRNumber)
	}

	issue, _ := store.GetIssue("issue-5")
	if issue.Status != domain.IssueCompleted {
		t.Errorf("issue status = %q, want completed", issue.Status)
	}

	gotTask, _ := store.GetTask(task.ID)
	if gotTask.Status != domain.TaskCompleted {
		t.Errorf("task status = %q, want completed", gotTask.Status)
	}
	if gotTask.Result["pr_number"] != 101.0 {
		t.Errorf("task result = %v", gotTask.Result)
	}
}

func TestPublish_HostAuthoritativeOnDraft(t *testing.T) {
	store := newTestStore(t)
	seedIssue(t, store)

	// Request asks for draft but the host opened it directly
	host := &fakeHost{pr: &HostPR{Number: 7, HTMLURL: "https://example.com/pull/7", Draft: false, Title: "t"}}
	p := NewPublisher(host, store, nil)

	record, err := p.Publish(context.Background(), PublishInput{
		IssueID: "issue-5", Repo: "acme/widgets", BranchName: "council/issue-5-improve-caching",
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != domain.PROpen {
		t.Errorf("Status = %q, want open", record.Status)
	}
}

func TestPublish_FailureMarksTaskPermanent(t *testing.T) {
	store := newTestStore(t)
	seedIssue(t, store)
	task, _ := store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-5", nil, domain.PriorityElevated)

	host := &fakeHost{err: errors.New("422 validation failed")}
	p := NewPublisher(host, store, nil)

	_, err := p.Publish(context.Background(), PublishInput{
		IssueID: "issue-5", TaskID: task.ID, Repo: "acme/widgets", BranchName: "council/issue-5-improve-caching",
	})
	if err == nil {
		t.Fatal("expected error to re-raise")
	}
	if queue.ShouldRequeue(err) {
		t.Error("publish failure classified as requeueable, want permanent")
	}

	gotTask, _ := store.GetTask(task.ID)
	if gotTask.Status != domain.TaskFailed {
		t.Errorf("task status = %q, want failed", gotTask.Status)
	}
	if gotTask.Requeue {
		t.Error("Requeue = true, want false for publish failure")
	}

	// No half-created record
	if _, err := store.GetPullRequest("issue-5"); err == nil {
		t.Error("PR record saved despite host failure")
	}
}

// completeFailingStore fails CompleteTask while passing everything else
// through to the real store.
type completeFailingStore struct {
	*taskstore.Store
}

func (s *completeFailingStore) CompleteTask(id string, result map[string]any) error {
	return errors.New("database is locked")
}

func TestPublish_CompleteTaskFailureIsPermanent(t *testing.T) {
	store := newTestStore(t)
	seedIssue(t, store)
	task, _ := store.EnqueueTask(domain.TaskTypeCreatePullRequest, "issue-5", nil, domain.PriorityElevated)

	host := &fakeHost{pr: &HostPR{Number: 12, HTMLURL: "https://example.com/pull/12", Draft: true, Title: "t"}}
	p := NewPublisher(host, &completeFailingStore{store}, nil)

	_, err := p.Publish(context.Background(), PublishInput{
		IssueID: "issue-5", TaskID: task.ID, Repo: "acme/widgets", BranchName: "council/issue-5-improve-caching",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// The PR now exists on the host; a requeue would open a duplicate
	if queue.ShouldRequeue(err) {
		t.Error("finalize failure classified as requeueable, want permanent")
	}

	gotTask, _ := store.GetTask(task.ID)
	if gotTask.Status != domain.TaskFailed {
		t.Errorf("task status = %q, want failed", gotTask.Status)
	}
	if gotTask.Requeue {
		t.Error("Requeue = true, want false")
	}
}

func TestGitHubHost_CreatePullRequest(t *testing.T) {
	var gotAuth, gotPath string
	var gotPayload createPRPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(HostPR{Number: 9, HTMLURL: "https://example.com/pull/9", Draft: true, Title: gotPayload.Title})
	}))
	defer server.Close()

	host := NewGitHubHost(server.URL)
	pr, err := host.CreatePullRequest(context.Background(), CreateRequest{
		RepoFullName: "acme/widgets",
		Title:        "council: Improve caching (#5)",
		Head:         "council/issue-5-improve-caching",
		Base:         "main",
		Body:         "## Summary\nAdds caching",
		Draft:        true,
		Token:        "tok123",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pr.Number != 9 {
		t.Errorf("Number = %d, want 9", pr.Number)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/repos/acme/widgets/pulls" {
		t.Errorf("path = %q", gotPath)
	}
	if !gotPayload.Draft {
		t.Error("draft not requested")
	}
}

func TestGitHubHost_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Validation Failed"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	host := NewGitHubHost(server.URL)
	_, err := host.CreatePullRequest(context.Background(), CreateRequest{RepoFullName: "acme/widgets"})
	if err == nil {
		t.Fatal("expected error on 422")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error = %v, want status code included", err)
	}
}
