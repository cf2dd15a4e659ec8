package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/tools"
)

// Inference is the opaque model capability an agent runs on. An
// implementation drives the model's tool-calling loop, invoking tools
// through the supplied surface until the agent finishes its turn.
type Inference interface {
	Invoke(ctx context.Context, role Role, instruction string, surface *tools.Surface, state *tools.RunState) error
}

// Council runs each configured role against a session in order.
type Council struct {
	inference Inference
	logger    *slog.Logger

	mu    sync.RWMutex
	roles []Role
}

// New creates a Council with the given roles and inference backend.
func New(roles []Role, inference Inference, logger *slog.Logger) *Council {
	if logger == nil {
		logger = slog.Default()
	}
	return &Council{roles: roles, inference: inference, logger: logger}
}

// Roles returns the current role list.
func (c *Council) Roles() []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Role, len(c.roles))
	copy(out, c.roles)
	return out
}

// SetRoles swaps the role list, used by the manifest watcher on reload.
func (c *Council) SetRoles(roles []Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = roles
}

// Run invokes every role in order against the session and returns the run
// state holding votes and the full tool-call transcript. A single agent
// failing is absorbed so the remaining agents still get to vote; Run only
// errors when every agent failed, which points at the environment rather
// than the agents.
func (c *Council) Run(ctx context.Context, session sandbox.Session, instruction string) (*tools.RunState, error) {
	surface := tools.NewSurface(session)
	state := tools.NewRunState()

	roles := c.Roles()
	var errs []error
	for _, role := range roles {
		if err := c.inference.Invoke(ctx, role, instruction, surface, state); err != nil {
			c.logger.Warn("council agent failed", "role", role.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", role.Name, err))
		}
	}

	if len(errs) == len(roles) && len(roles) > 0 {
		return state, fmt.Errorf("all council agents failed: %w", errors.Join(errs...))
	}
	return state, nil
}
