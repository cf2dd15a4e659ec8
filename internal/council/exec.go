package council

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hochfrequenz/council-orchestrator/internal/tools"
)

// voteMarker prefixes the line an agent prints to cast its vote.
const voteMarker = "VOTE "

// ExecInference drives a role by launching an agent CLI inside the sandbox
// session through the tool surface, so the launch and the resulting vote both
// land in the run transcript. The agent is asked to end its output with a
// single marker line carrying its vote as JSON.
type ExecInference struct {
	binary string
	logger *slog.Logger
}

// NewExecInference creates an ExecInference running the given agent binary.
// An empty binary defaults to "claude".
func NewExecInference(binary string, logger *slog.Logger) *ExecInference {
	if binary == "" {
		binary = "claude"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecInference{binary: binary, logger: logger}
}

// Invoke runs one role's agent to completion. An agent that never prints a
// vote line simply casts no vote; the consensus step handles its absence.
func (e *ExecInference) Invoke(ctx context.Context, role Role, instruction string, surface *tools.Surface, state *tools.RunState) error {
	cmd := e.buildCommand(role, BuildPrompt(role, instruction))
	out, err := surface.Invoke(ctx, role.Name, "run_command", map[string]any{"command": cmd}, state)
	if err != nil {
		return fmt.Errorf("agent %s: %w", role.Name, err)
	}

	vote, found := ParseVote(out)
	if !found {
		e.logger.Warn("agent finished without voting", "role", role.Name)
		return nil
	}

	if _, err := surface.Invoke(ctx, role.Name, "submit_vote", map[string]any{
		"decision":   vote.Decision,
		"confidence": vote.Confidence,
		"reasoning":  vote.Reasoning,
	}, state); err != nil {
		return fmt.Errorf("agent %s: record vote: %w", role.Name, err)
	}
	return nil
}

func (e *ExecInference) buildCommand(role Role, prompt string) string {
	var b strings.Builder
	b.WriteString(e.binary)
	b.WriteString(" --print --dangerously-skip-permissions")
	if role.Model != "" {
		b.WriteString(" --model " + quoteArg(role.Model))
	}
	b.WriteString(" -p " + quoteArg(prompt))
	return "cd repo && " + b.String()
}

// BuildPrompt renders the instruction an agent receives: its role, the task,
// and the vote contract.
func BuildPrompt(role Role, instruction string) string {
	return fmt.Sprintf(
		"You are the %s on a review council working in this repository.\n\n"+
			"Task:\n%s\n\n"+
			"When you are finished, print exactly one final line of the form:\n"+
			"%s{\"decision\": \"approve|reject|revise\", \"confidence\": 0.0, \"reasoning\": \"...\"}",
		role.Name, instruction, voteMarker)
}

// VoteLine is the JSON payload an agent prints after the vote marker.
type VoteLine struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ParseVote scans agent output for vote marker lines and returns the payload
// of the last well-formed one. Malformed payloads are skipped.
func ParseVote(output string) (VoteLine, bool) {
	var vote VoteLine
	var found bool
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, voteMarker)
		if idx < 0 {
			continue
		}
		var v VoteLine
		if err := json.Unmarshal([]byte(line[idx+len(voteMarker):]), &v); err != nil {
			continue
		}
		vote = v
		found = true
	}
	return vote, found
}

// quoteArg single-quotes s for the session shell.
func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
