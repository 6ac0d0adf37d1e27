package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ============================================================================
// OPENAI MODEL — chat completions with tool calls
// ============================================================================

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIModel implements Model with OpenAI-compatible tool calling.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel builds a client. baseURL is optional and lets the model
// point at any OpenAI-compatible endpoint.
func NewOpenAIModel(apiKey, model, baseURL string) (*OpenAIModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAIModel) Name() string { return "openai:" + o.model }

// Generate sends one turn.
func (o *OpenAIModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	msgs, err := toOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	creq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
		Tools:    toOpenAITools(req.Tools),
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		apiErr := &APIError{Provider: "openai", Err: err}
		var oerr *openai.APIError
		if errors.As(err, &oerr) {
			apiErr.StatusCode = oerr.HTTPStatusCode
		}
		var rerr *openai.RequestError
		if errors.As(err, &rerr) {
			apiErr.StatusCode = rerr.HTTPStatusCode
		}
		return nil, apiErr
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Provider: "openai", Err: fmt.Errorf("OpenAI returned no choices")}
	}
	return fromOpenAIChoice(resp.Choices[0])
}

// ============================================================================
// MAPPING
// ============================================================================

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func toOpenAIMessages(system string, msgs []Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})

		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("encode arguments for %s: %w", tc.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)

		case RoleTool:
			for _, r := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					Name:       r.Name,
					ToolCallID: r.CallID,
				})
			}

		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return out, nil
}

func fromOpenAIChoice(choice openai.ChatCompletionChoice) (*ModelResponse, error) {
	out := &ModelResponse{Text: choice.Message.Content, StopReason: StopEndTurn}
	for _, c := range choice.Message.ToolCalls {
		if c.Type != "" && c.Type != openai.ToolTypeFunction {
			continue
		}
		args, err := decodeArguments(c.Function.Arguments)
		if err != nil {
			// Empty arguments are rejected by the tool or by terminal
			// validation.
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: c.ID, Name: c.Function.Name, Args: args})
	}
	if len(out.ToolCalls) > 0 || choice.FinishReason == openai.FinishReasonToolCalls {
		out.StopReason = StopToolUse
	}
	return out, nil
}
