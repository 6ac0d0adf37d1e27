package synth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLoopExhausted: the turn budget ran out without a terminal call.
	ErrLoopExhausted = errors.New("synth: agent loop exhausted")
	// ErrNoTerminalCall: the model ended its turn without calling
	// emit_configuration. Free text is never parsed into a config.
	ErrNoTerminalCall = errors.New("synth: model finished without emit_configuration")
	// ErrInvalidTerminal: the emit_configuration payload failed validation.
	ErrInvalidTerminal = errors.New("synth: invalid terminal configuration")
	// ErrNoModel: no model is configured; only the fallback runs.
	ErrNoModel = errors.New("synth: no model configured")
)

// APIError is a transport or HTTP failure talking to the model provider.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("synth: %s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("synth: %s API error: %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// reasonOf maps a run failure to a short metrics label.
func reasonOf(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrLoopExhausted):
		return "loop_exhausted"
	case errors.Is(err, ErrNoTerminalCall):
		return "no_terminal_call"
	case errors.Is(err, ErrInvalidTerminal):
		return "invalid_terminal"
	case errors.Is(err, ErrNoModel):
		return "no_model"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "other"
	}
}
