package tools

import (
	"context"
	"fmt"
	"strings"
)

func (s *Surface) runCommandTool() Tool {
	return Tool{
		Name:        "run_command",
		Description: "Run a shell command inside the sandbox session",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, agent string, input map[string]any, state *RunState) (string, error) {
			cmd, _ := input["command"].(string)
			if cmd == "" {
				return "no command provided", nil
			}

			res, err := s.session.Run(ctx, cmd)
			if err != nil {
				// Transport failure, not a command failure
				return "", fmt.Errorf("run command: %w", err)
			}

			// Non-zero exit is data for the agent, never an error
			return fmt.Sprintf("exit_code: %d\nstdout:\n%s\nstderr:\n%s",
				res.ExitCode,
				strings.TrimSpace(res.Stdout),
				strings.TrimSpace(res.Stderr)), nil
		},
	}
}
