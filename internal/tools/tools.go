// Package tools is the bounded capability surface exposed to council agents.
// A Surface is bound to one live sandbox session for the duration of a single
// step; every invocation is recorded in the run's transcript.
package tools

import (
	"context"
	"sync"
	"time"

	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
)

// Tool declares one capability: a name, a parameter schema handed to the
// inference layer, and a handler executed when an agent invokes it.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     func(ctx context.Context, agent string, input map[string]any, state *RunState) (string, error)
}

// ToolCall is one recorded invocation in a council run's transcript.
type ToolCall struct {
	Agent  string
	Tool   string
	Input  map[string]any
	Output string
	At     time.Time
}

// RunState is the mutable shared state of one council run: files written,
// votes submitted, and the ordered tool-call transcript.
type RunState struct {
	mu           sync.Mutex
	writtenFiles []string
	votes        map[string]domain.Vote
	transcript   []ToolCall
}

// NewRunState creates an empty run state.
func NewRunState() *RunState {
	return &RunState{votes: make(map[string]domain.Vote)}
}

func (s *RunState) recordFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writtenFiles = append(s.writtenFiles, path)
}

func (s *RunState) recordVote(v domain.Vote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[v.AgentName] = v
}

// Record appends a tool call to the transcript.
func (s *RunState) Record(call ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, call)
}

// Votes returns a copy of the explicitly submitted vote map, keyed by agent.
func (s *RunState) Votes() map[string]domain.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Vote, len(s.votes))
	for k, v := range s.votes {
		out[k] = v
	}
	return out
}

// Transcript returns the ordered tool-call history.
func (s *RunState) Transcript() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolCall, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// WrittenFiles returns the sanitized paths written so far.
func (s *RunState) WrittenFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writtenFiles))
	copy(out, s.writtenFiles)
	return out
}

// Surface is the tool set bound to one live session.
type Surface struct {
	session sandbox.Session
}

// NewSurface binds a tool surface to a session for the current step.
func NewSurface(session sandbox.Session) *Surface {
	return &Surface{session: session}
}

// Tools returns the full capability set in declaration order.
func (s *Surface) Tools() []Tool {
	return []Tool{
		s.runCommandTool(),
		s.writeFilesTool(),
		s.readFilesTool(),
		submitVoteTool(),
	}
}

// Invoke runs the named tool for the given agent and records the call in the
// transcript regardless of outcome.
func (s *Surface) Invoke(ctx context.Context, agent, name string, input map[string]any, state *RunState) (string, error) {
	var tool *Tool
	for _, t := range s.Tools() {
		if t.Name == name {
			tool = &t
			break
		}
	}
	if tool == nil {
		out := "unknown tool: " + name
		state.Record(ToolCall{Agent: agent, Tool: name, Input: input, Output: out, At: time.Now()})
		return out, nil
	}

	out, err := tool.Handler(ctx, agent, input, state)
	state.Record(ToolCall{Agent: agent, Tool: name, Input: input, Output: out, At: time.Now()})
	return out, err
}
