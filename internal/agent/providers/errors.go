package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/parrot/internal/agent"
)

// ProviderError represents a structured error from an LLM provider.
// It captures context needed for retry logic, fallback decisions, and debugging.
type ProviderError struct {
	// Kind categorizes the error for retry and fallback logic
	Kind agent.FailureKind

	// Provider is the name of the provider (e.g., "anthropic", "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}

	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// FailureKind lets agent.ClassifyFailure read the classification.
func (e *ProviderError) FailureKind() agent.FailureKind {
	return e.Kind
}

// NewProviderError creates a ProviderError classified from the text of cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     agent.FailureUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Kind = agent.ClassifyFailure(cause)
	}

	return err
}

// WithStatus adds HTTP status to the error and reclassifies if needed.
// A 429 or 400 that reports exhausted quota or credit stays a quota failure.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	kind := classifyStatusCode(status)
	if kind == agent.FailureUnknown {
		return e
	}
	if (kind == agent.FailureRateLimit || kind == agent.FailureInvalidRequest) && agent.ClassifyMessage(e.Message+" "+e.Code) == agent.FailureQuota {
		kind = agent.FailureQuota
	}
	e.Kind = kind
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if kind := classifyErrorCode(code); kind != agent.FailureUnknown {
		e.Kind = kind
	}
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// classifyStatusCode returns a FailureKind based on HTTP status code.
func classifyStatusCode(status int) agent.FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return agent.FailureAuth
	case status == http.StatusPaymentRequired:
		return agent.FailureQuota
	case status == http.StatusTooManyRequests:
		return agent.FailureRateLimit
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return agent.FailureInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return agent.FailureTimeout
	case status >= 500:
		return agent.FailureServer
	default:
		return agent.FailureUnknown
	}
}

// classifyErrorCode returns a FailureKind based on provider-specific error codes.
func classifyErrorCode(code string) agent.FailureKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return agent.FailureRateLimit
	case "authentication_error", "permission_error", "invalid_api_key", "unauthenticated", "permission_denied":
		return agent.FailureAuth
	case "billing_error", "insufficient_quota":
		return agent.FailureQuota
	case "overloaded_error", "api_error", "server_error", "internal_error", "unavailable":
		return agent.FailureServer
	case "invalid_request_error", "not_found_error", "invalid_argument":
		return agent.FailureInvalidRequest
	default:
		return agent.FailureUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried against the same provider.
func IsRetryable(err error) bool {
	return agent.ClassifyFailure(err).IsTransient()
}
