package domain

// Decision is one agent's verdict on a council run
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// ValidDecision reports whether s is one of the three recognized decisions.
func ValidDecision(s string) bool {
	switch Decision(s) {
	case DecisionApprove, DecisionReject, DecisionRevise:
		return true
	}
	return false
}

// Vote is a single agent's judgment. One logical vote per agent per
// council run; a later submission from the same agent replaces the earlier one.
type Vote struct {
	AgentName  string
	Decision   Decision
	Confidence float64 // always in [0,1]
	Reasoning  string
}

// ConsensusDecision is the adjudicated outcome of a council run. It is
// derived from its vote set and recomputable at any time.
type ConsensusDecision struct {
	FinalDecision    Decision
	AgreeCount       int
	TotalVotes       int
	Votes            []Vote
	OrchestratorNote string
}
