package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const expiryMarker = ".sandbox-expires"

// LocalProvider hosts sessions as directories under a base path, running
// commands through the local shell. It backs single-machine deployments;
// remote compute backends implement Provider against their own API.
type LocalProvider struct {
	baseDir string
}

// NewLocalProvider creates a LocalProvider rooted at baseDir.
func NewLocalProvider(baseDir string) *LocalProvider {
	return &LocalProvider{baseDir: baseDir}
}

func (p *LocalProvider) dir(id string) string {
	return filepath.Join(p.baseDir, id)
}

// Create allocates a fresh session directory. The template is recorded but
// has no effect locally; lifetime is enforced at reconnect time.
func (p *LocalProvider) Create(ctx context.Context, template string, lifetime time.Duration) (string, error) {
	id := "sbx-" + uuid.NewString()
	dir := p.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &PermanentError{Err: fmt.Errorf("create session dir: %w", err)}
	}

	expires := time.Now().Add(lifetime).Unix()
	marker := strconv.FormatInt(expires, 10) + "\n"
	if err := os.WriteFile(filepath.Join(dir, expiryMarker), []byte(marker), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", &PermanentError{Err: fmt.Errorf("write expiry marker: %w", err)}
	}
	return id, nil
}

// Reconnect returns a live session for id, or ErrSessionNotFound when the
// directory is gone or its lifetime has elapsed. An elapsed session is
// removed on the way out.
func (p *LocalProvider) Reconnect(ctx context.Context, id string) (Session, error) {
	dir := p.dir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, &TransientError{Err: err}
	}

	if raw, err := os.ReadFile(filepath.Join(dir, expiryMarker)); err == nil {
		if expires, perr := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64); perr == nil {
			if time.Now().Unix() > expires {
				os.RemoveAll(dir)
				return nil, ErrSessionNotFound
			}
		}
	}
	return &localSession{id: id, dir: dir}, nil
}

// Terminate removes the session directory. Missing directories are fine.
func (p *LocalProvider) Terminate(ctx context.Context, id string) error {
	return os.RemoveAll(p.dir(id))
}

type localSession struct {
	id  string
	dir string
}

func (s *localSession) ID() string { return s.id }

// Run executes cmd through the shell with the session directory as its
// working directory. A non-zero exit fills ExitCode; only failures to run
// the shell at all are errors.
func (s *localSession) Run(ctx context.Context, cmd string) (ExecResult, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = s.dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExecResult{}, fmt.Errorf("run %q: %w", cmd, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (s *localSession) resolve(path string) (string, error) {
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("path %q escapes the session", path)
	}
	return filepath.Join(s.dir, path), nil
}

func (s *localSession) ReadFile(ctx context.Context, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *localSession) WriteFile(ctx context.Context, path, content string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}
