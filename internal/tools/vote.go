package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
)

const defaultConfidence = 0.5

// ParseConfidence coerces a raw tool-call argument into a confidence in
// [0,1]. Unparsable values default to 0.5; out-of-range values are clamped.
func ParseConfidence(raw any) float64 {
	var c float64
	switch v := raw.(type) {
	case float64:
		c = v
	case int:
		c = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return defaultConfidence
		}
		c = parsed
	default:
		return defaultConfidence
	}

	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func submitVoteTool() Tool {
	return Tool{
		Name:        "submit_vote",
		Description: "Submit your final judgment on the task",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"decision": map[string]any{
					"type": "string",
					"enum": []string{"approve", "reject", "revise"},
				},
				"confidence": map[string]any{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
				"reasoning": map[string]any{"type": "string"},
			},
			"required": []string{"decision", "confidence", "reasoning"},
		},
		Handler: func(ctx context.Context, agent string, input map[string]any, state *RunState) (string, error) {
			decision, _ := input["decision"].(string)
			if !domain.ValidDecision(decision) {
				// Invalid decisions are rejected, not stored
				return fmt.Sprintf("invalid decision %q: must be approve, reject, or revise", decision), nil
			}

			reasoning, _ := input["reasoning"].(string)
			vote := domain.Vote{
				AgentName:  agent,
				Decision:   domain.Decision(decision),
				Confidence: ParseConfidence(input["confidence"]),
				Reasoning:  reasoning,
			}
			state.recordVote(vote)
			return fmt.Sprintf("vote recorded: %s (confidence %.2f)", vote.Decision, vote.Confidence), nil
		},
	}
}
