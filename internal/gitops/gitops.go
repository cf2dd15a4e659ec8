// Package gitops prepares a working tree inside a sandbox session for a
// code-change task: shallow clone, deterministic branch, conditional
// dependency install, status capture.
package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
)

// WorkDir is the directory inside the session the repository is cloned into.
const WorkDir = "repo"

// manifestInstalls maps detectable dependency manifests to their install
// commands, checked in order.
var manifestInstalls = []struct {
	Manifest string
	Command  string
}{
	{"package-lock.json", "npm ci"},
	{"package.json", "npm install"},
	{"go.mod", "go mod download"},
	{"requirements.txt", "pip install -r requirements.txt"},
	{"Gemfile", "bundle install"},
}

// Workspace runs git operations inside one live session.
type Workspace struct {
	session sandbox.Session
}

// NewWorkspace binds git operations to a session for the current step.
func NewWorkspace(session sandbox.Session) *Workspace {
	return &Workspace{session: session}
}

// Clone shallow-clones the repository into WorkDir. A non-zero exit is a
// hard failure for the run.
func (w *Workspace) Clone(ctx context.Context, repoFullName, token string) error {
	url := CloneURL(repoFullName, token)
	res, err := w.session.Run(ctx, fmt.Sprintf("git clone --depth=1 %s %s", url, WorkDir))
	if err != nil {
		return fmt.Errorf("clone %s: %w", repoFullName, err)
	}
	if res.ExitCode != 0 {
		// Strip the token before the stderr ends up in a task record
		stderr := res.Stderr
		if token != "" {
			stderr = strings.ReplaceAll(stderr, token, "***")
		}
		return fmt.Errorf("clone %s exited %d: %s", repoFullName, res.ExitCode, stderr)
	}
	return nil
}

// CreateBranch creates and checks out the given branch in the cloned tree.
func (w *Workspace) CreateBranch(ctx context.Context, branch string) error {
	res, err := w.session.Run(ctx, fmt.Sprintf("cd %s && git checkout -b %s", WorkDir, branch))
	if err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("checkout %s exited %d: %s", branch, res.ExitCode, res.Stderr)
	}
	return nil
}

// InstallDeps detects a dependency manifest and runs its install command.
// A tree without any known manifest is skipped without error; a failing
// install is a hard failure. Returns the manifest used, or "" when skipped.
func (w *Workspace) InstallDeps(ctx context.Context) (string, error) {
	for _, m := range manifestInstalls {
		probe, err := w.session.Run(ctx, fmt.Sprintf("test -f %s/%s", WorkDir, m.Manifest))
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", m.Manifest, err)
		}
		if probe.ExitCode != 0 {
			continue
		}

		res, err := w.session.Run(ctx, fmt.Sprintf("cd %s && %s", WorkDir, m.Command))
		if err != nil {
			return "", fmt.Errorf("install via %s: %w", m.Manifest, err)
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("install via %s exited %d: %s", m.Manifest, res.ExitCode, res.Stderr)
		}
		return m.Manifest, nil
	}
	return "", nil
}

// Status captures the repository status as this step's recorded artifact.
func (w *Workspace) Status(ctx context.Context) (string, error) {
	res, err := w.session.Run(ctx, fmt.Sprintf("cd %s && git status --porcelain", WorkDir))
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git status exited %d: %s", res.ExitCode, res.Stderr)
	}
	return strings.TrimSpace(res.Stdout), nil
}
