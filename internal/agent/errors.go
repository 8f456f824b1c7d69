package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxTurns indicates an exchange exhausted its turn budget
	ErrMaxTurns = errors.New("turn budget exhausted")

	// ErrNoProvider indicates no provider adapter is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorKind is the machine-readable "error" field of a structured tool
// error payload.
type ToolErrorKind string

const (
	ToolErrorNotFound         ToolErrorKind = "not_found"
	ToolErrorInvalidArguments ToolErrorKind = "invalid_arguments"
	ToolErrorForbidden        ToolErrorKind = "forbidden"
	ToolErrorCapacity         ToolErrorKind = "capacity"
	ToolErrorTimeout          ToolErrorKind = "timeout"
	ToolErrorUnavailable      ToolErrorKind = "unavailable"
	ToolErrorExecution        ToolErrorKind = "execution_failed"
	ToolErrorPanic            ToolErrorKind = "panic"
)

// ToolError is a categorized tool failure. Handlers return it (or wrap it)
// to choose the kind reported back to the model.
type ToolError struct {
	// Kind categorizes the failure
	Kind ToolErrorKind

	// ToolName is the name of the tool that failed
	ToolName string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError of the given kind.
func NewToolError(kind ToolErrorKind, message string) *ToolError {
	return &ToolError{Kind: kind, Message: message}
}

// Errorf creates a ToolError with a formatted message.
func Errorf(kind ToolErrorKind, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithTool records the tool name on the error.
func (e *ToolError) WithTool(name string) *ToolError {
	e.ToolName = name
	return e
}

// WithCause records the underlying error.
func (e *ToolError) WithCause(err error) *ToolError {
	e.Cause = err
	return e
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorPayload renders the structured {"error": kind, "message": msg} string
// returned to the model for every failed tool call.
func ErrorPayload(kind ToolErrorKind, message string) string {
	payload, err := json.Marshal(map[string]string{
		"error":   string(kind),
		"message": message,
	})
	if err != nil {
		return fmt.Sprintf(`{"error":%q,"message":%q}`, kind, message)
	}
	return string(payload)
}

// payloadFor converts any handler error into its payload.
func payloadFor(err error) string {
	if toolErr, ok := GetToolError(err); ok {
		msg := toolErr.Message
		if msg == "" && toolErr.Cause != nil {
			msg = toolErr.Cause.Error()
		}
		return ErrorPayload(toolErr.Kind, msg)
	}
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ErrorPayload(ToolErrorNotFound, err.Error())
	case errors.Is(err, ErrToolTimeout):
		return ErrorPayload(ToolErrorTimeout, err.Error())
	case errors.Is(err, ErrToolPanic):
		return ErrorPayload(ToolErrorPanic, err.Error())
	}
	return ErrorPayload(ToolErrorExecution, err.Error())
}

// LoopError records where in an exchange a failure happened.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Turn is the 1-based model turn where the error occurred
	Turn int

	// Provider names the adapter in use
	Provider string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (turn %d, provider %s): %v", e.Phase, e.Turn, e.Provider, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (turn %d, provider %s)", e.Phase, e.Turn, e.Provider)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase is a state of the per-exchange state machine.
type LoopPhase string

const (
	// PhaseAwaitingModel waits on the provider for the next model turn
	PhaseAwaitingModel LoopPhase = "awaiting_model"

	// PhaseExecutingTools runs the calls requested by the last turn
	PhaseExecutingTools LoopPhase = "executing_tools"

	// PhaseDone is terminal
	PhaseDone LoopPhase = "done"
)
