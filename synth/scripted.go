package synth

import (
	"context"
	"sync"
)

// ScriptedModel replays canned responses, one per turn. Once the script is
// used up the last response repeats. Used offline and in tests.
type ScriptedModel struct {
	mu        sync.Mutex
	name      string
	responses []ScriptStep
	requests  []ModelRequest
}

// ScriptStep is one canned turn: a response or an error.
type ScriptStep struct {
	Response *ModelResponse
	Err      error
}

// NewScriptedModel builds a model from steps.
func NewScriptedModel(steps ...ScriptStep) *ScriptedModel {
	return &ScriptedModel{name: "scripted", responses: steps}
}

// Reply is a ScriptStep returning tool calls.
func Reply(calls ...ToolCall) ScriptStep {
	stop := StopToolUse
	if len(calls) == 0 {
		stop = StopEndTurn
	}
	return ScriptStep{Response: &ModelResponse{ToolCalls: calls, StopReason: stop}}
}

// Say is a ScriptStep answering in free text only.
func Say(text string) ScriptStep {
	return ScriptStep{Response: &ModelResponse{Text: text, StopReason: StopEndTurn}}
}

// Fail is a ScriptStep returning err.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

func (m *ScriptedModel) Name() string { return m.name }

// Generate returns the next scripted step.
func (m *ScriptedModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		return &ModelResponse{StopReason: StopEndTurn}, nil
	}
	i := len(m.requests) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	step := m.responses[i]
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// Requests returns every request received so far.
func (m *ScriptedModel) Requests() []ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelRequest(nil), m.requests...)
}

// Calls is the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
