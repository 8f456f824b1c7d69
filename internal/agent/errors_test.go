package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolError_Error(t *testing.T) {
	err := NewToolError(ToolErrorCapacity, "too many tasks").WithTool("background_task")

	errStr := err.Error()
	for _, want := range []string{"tool:capacity", "background_task", "too many tasks"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
}

func TestToolError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewToolError(ToolErrorExecution, "wrapped").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestGetToolError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Errorf(ToolErrorForbidden, "admins only"))
	toolErr, ok := GetToolError(wrapped)
	if !ok {
		t.Fatal("expected to extract ToolError")
	}
	if toolErr.Kind != ToolErrorForbidden {
		t.Errorf("Kind = %q, want forbidden", toolErr.Kind)
	}
	if _, ok := GetToolError(errors.New("plain")); ok {
		t.Error("plain error should not be a ToolError")
	}
}

func TestPayloadFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantMsg  string
	}{
		{"tool error", Errorf(ToolErrorCapacity, "limit %d", 5), "capacity", "limit 5"},
		{"wrapped tool error", fmt.Errorf("spawn: %w", NewToolError(ToolErrorForbidden, "nope")), "forbidden", "nope"},
		{"tool error without message", NewToolError(ToolErrorUnavailable, "").WithCause(errors.New("down")), "unavailable", "down"},
		{"timeout sentinel", fmt.Errorf("x: %w", ErrToolTimeout), "timeout", "x: tool execution timed out"},
		{"plain error", errors.New("boom"), "execution_failed", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]string
			if err := json.Unmarshal([]byte(payloadFor(tt.err)), &payload); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if payload["error"] != tt.wantKind {
				t.Errorf("error = %q, want %q", payload["error"], tt.wantKind)
			}
			if payload["message"] != tt.wantMsg {
				t.Errorf("message = %q, want %q", payload["message"], tt.wantMsg)
			}
		})
	}
}

func TestLoopError(t *testing.T) {
	cause := errors.New("api error")
	err := &LoopError{Phase: PhaseAwaitingModel, Turn: 3, Provider: "openai", Cause: cause}

	errStr := err.Error()
	for _, want := range []string{"awaiting_model", "turn 3", "openai", "api error"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("LoopError should unwrap to its cause")
	}
}
