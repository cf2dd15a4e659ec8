package pullrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GitHubHost creates pull requests through the GitHub REST API.
type GitHubHost struct {
	baseURL string
	client  *http.Client
}

// NewGitHubHost creates a host client. baseURL defaults to the public API.
func NewGitHubHost(baseURL string) *GitHubHost {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubHost{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type createPRPayload struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
	Draft bool   `json:"draft"`
}

// CreatePullRequest calls POST /repos/{repo}/pulls.
func (g *GitHubHost) CreatePullRequest(ctx context.Context, req CreateRequest) (*HostPR, error) {
	payload, err := json.Marshal(createPRPayload{
		Title: req.Title,
		Head:  req.Head,
		Base:  req.Base,
		Body:  req.Body,
		Draft: req.Draft,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", g.baseURL, req.RepoFullName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call host: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("host returned %d: %s", resp.StatusCode, body)
	}

	var pr HostPR
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode host response: %w", err)
	}
	return &pr, nil
}
