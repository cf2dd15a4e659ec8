package domain

// TriggerEvent is the inbound payload that starts a pipeline run.
// Only TaskID and RepoFullName are required; the rest depend on task type.
type TriggerEvent struct {
	TaskID       string `json:"task_id"`
	IssueID      string `json:"issue_id,omitempty"`
	Instruction  string `json:"instruction,omitempty"`
	RepoFullName string `json:"repo_full_name"`
	AccessToken  string `json:"access_token,omitempty"`
	BaseBranch   string `json:"base_branch,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
}
