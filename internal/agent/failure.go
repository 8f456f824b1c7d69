package agent

import (
	"context"
	"errors"
	"strings"
)

// FailureKind classifies a backend failure for fallback decisions and
// user-facing messages.
type FailureKind string

const (
	FailureQuota          FailureKind = "quota"
	FailureAuth           FailureKind = "auth"
	FailureRateLimit      FailureKind = "rate_limit"
	FailureServer         FailureKind = "server"
	FailureTimeout        FailureKind = "timeout"
	FailureInvalidRequest FailureKind = "invalid_request"
	FailureUnknown        FailureKind = "unknown"
)

// IsTransient reports whether retrying the same provider may succeed.
func (k FailureKind) IsTransient() bool {
	switch k {
	case FailureRateLimit, FailureServer, FailureTimeout:
		return true
	default:
		return false
	}
}

// classified is implemented by errors that already know their kind, such as
// providers.ProviderError.
type classified interface {
	FailureKind() FailureKind
}

// ClassifyFailure maps an error to a FailureKind. Errors carrying their own
// classification win; otherwise known error signatures are matched.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	var c classified
	if errors.As(err, &c) {
		if kind := c.FailureKind(); kind != "" && kind != FailureUnknown {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage matches error text against known provider signatures.
func ClassifyMessage(text string) FailureKind {
	msg := strings.ToLower(text)

	// Quota is checked before rate limits: providers report exhausted
	// quota with HTTP 429 too.
	if containsAny(msg, "quota", "insufficient_quota", "billing", "payment required", "credit balance", "402") {
		return FailureQuota
	}
	if containsAny(msg, "rate limit", "rate_limit", "too many requests", "resource_exhausted", "429") {
		return FailureRateLimit
	}
	if containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "api key not valid",
		"authentication", "permission_denied", "401", "403") {
		return FailureAuth
	}
	if containsAny(msg, "timeout", "timed out", "deadline exceeded", "etimedout") {
		return FailureTimeout
	}
	if containsAny(msg, "internal server", "server error", "overloaded", "unavailable", "bad gateway",
		"500", "502", "503", "504", "529") {
		return FailureServer
	}
	if containsAny(msg, "invalid_request", "bad request", "400") {
		return FailureInvalidRequest
	}
	return FailureUnknown
}

// UserMessage is the apologetic reply sent when an exchange ends in a
// backend failure of the given kind.
func UserMessage(kind FailureKind) string {
	switch kind {
	case FailureQuota:
		return "I've hit my usage quota with the AI provider. Please try again later."
	case FailureAuth:
		return "I can't reach the AI provider right now because of a configuration problem with my credentials."
	case FailureRateLimit:
		return "I'm getting too many requests right now. Please wait a moment and try again."
	case FailureServer, FailureTimeout:
		return "The AI provider is having trouble right now. Please try again in a little while."
	default:
		return "Sorry, something went wrong while I was working on that."
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
