// Package consensus adjudicates council runs: it recovers votes from tool-call
// transcripts, merges vote sources, and computes the majority decision.
package consensus

import (
	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/tools"
)

// ExtractVotesFromHistory scans an ordered tool-call transcript for
// submit_vote invocations and rebuilds the agent→vote map. Calls with an
// unrecognized decision are skipped entirely; a later vote from the same
// agent replaces an earlier one.
func ExtractVotesFromHistory(transcript []tools.ToolCall) map[string]domain.Vote {
	votes := make(map[string]domain.Vote)
	for _, call := range transcript {
		if call.Tool != "submit_vote" {
			continue
		}
		decision, _ := call.Input["decision"].(string)
		if !domain.ValidDecision(decision) {
			continue
		}
		reasoning, _ := call.Input["reasoning"].(string)
		votes[call.Agent] = domain.Vote{
			AgentName:  call.Agent,
			Decision:   domain.Decision(decision),
			Confidence: tools.ParseConfidence(call.Input["confidence"]),
			Reasoning:  reasoning,
		}
	}
	return votes
}

// MergeVoteSources unions agent→vote maps in source order. When an agent
// appears in more than one source, the vote from the later source wins.
func MergeVoteSources(sources ...map[string]domain.Vote) map[string]domain.Vote {
	merged := make(map[string]domain.Vote)
	for _, source := range sources {
		for agent, vote := range source {
			merged[agent] = vote
		}
	}
	return merged
}

// GetConsensus computes the majority decision over the given vote set.
// Pure: identical inputs always yield identical outputs. An empty vote set
// resolves to revise with an explicit note, never an error.
func GetConsensus(votes map[string]domain.Vote) domain.ConsensusDecision {
	list := make([]domain.Vote, 0, len(votes))
	for _, v := range votes {
		list = append(list, v)
	}

	var approve, reject int
	for _, v := range list {
		switch v.Decision {
		case domain.DecisionApprove:
			approve++
		case domain.DecisionReject:
			reject++
		}
	}

	total := len(list)
	decision := domain.ConsensusDecision{
		AgreeCount: approve,
		TotalVotes: total,
		Votes:      list,
	}

	switch {
	case total == 0:
		decision.FinalDecision = domain.DecisionRevise
		decision.OrchestratorNote = "no votes recorded"
	case approve*2 > total:
		decision.FinalDecision = domain.DecisionApprove
	case reject*2 > total:
		decision.FinalDecision = domain.DecisionReject
	default:
		// Ties and three-way splits resolve to revise
		decision.FinalDecision = domain.DecisionRevise
	}
	return decision
}
