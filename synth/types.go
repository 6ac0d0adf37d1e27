// Package synth turns a natural-language request into a widget
// configuration. A tool-using model explores the dataset and must finish
// through the emit_configuration tool; any failure falls back to a
// deterministic keyword classifier so the caller always gets a usable config.
package synth

import (
	"context"
	"time"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// STATE MACHINE
// ============================================================================

// State is a state of one synthesis run.
type State string

const (
	// StateExploring: the model is calling exploratory tools.
	StateExploring State = "exploring"
	// StateFinalizing: the terminal tool was called and its payload is
	// being validated.
	StateFinalizing State = "finalizing"
	// StateDone: a validated configuration was produced.
	StateDone State = "done"
	// StateError: the run failed and the fallback was used.
	StateError State = "error"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// ============================================================================
// TRANSCRIPT
// ============================================================================

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Tool messages carry results only.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult answers one ToolCall. Content is JSON.
type ToolResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// ============================================================================
// MODEL PORT
// ============================================================================

// Schema is the JSON-schema subset used to describe tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// StopReason says why the model ended its turn.
type StopReason string

const (
	StopToolUse StopReason = "tool_use"
	StopEndTurn StopReason = "end_turn"
)

// ModelRequest is one turn's input.
type ModelRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// ModelResponse is one turn's output.
type ModelResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Model is a tool-calling language model. Implementations wrap transport
// failures in *APIError.
type Model interface {
	Name() string
	Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ============================================================================
// OUTPUT
// ============================================================================

// Origin says which path produced a suggestion.
type Origin string

const (
	OriginModel    Origin = "model"
	OriginFallback Origin = "fallback"
)

// WidgetSuggestion is the immutable outcome of one run. A new run yields a
// new value; suggestions are never patched.
type WidgetSuggestion struct {
	ID         string                     `json:"id"`
	Config     engine.VisualizationConfig `json:"config"`
	Filters    []predicate.Condition      `json:"filters"`
	Reasoning  []string                   `json:"reasoning"`
	Warnings   []string                   `json:"warnings"`
	SampleData *engine.Result             `json:"sampleData,omitempty"`
	Source     Origin                     `json:"source"`
}

// Run records how a suggestion was reached.
type Run struct {
	ID         string            `json:"id"`
	Prompt     string            `json:"prompt"`
	State      State             `json:"state"`
	Turns      int               `json:"turns"`
	Transcript []Message         `json:"transcript"`
	Suggestion *WidgetSuggestion `json:"suggestion"`
	Err        error             `json:"-"`
	Duration   time.Duration     `json:"duration"`
}

// FailureReason names Err for logs and metrics. Empty on success.
func (r *Run) FailureReason() string {
	if r.Err == nil {
		return ""
	}
	return reasonOf(r.Err)
}
