package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed. The
// orchestrator uses it to decide whether a turn error is worth
// surfacing verbatim; nothing is retried automatically beyond the
// single JSON repair round.
type FailureReason string

const (
	ReasonAuth           FailureReason = "auth"
	ReasonRateLimit      FailureReason = "rate_limit"
	ReasonTimeout        FailureReason = "timeout"
	ReasonServerError    FailureReason = "server_error"
	ReasonInvalidRequest FailureReason = "invalid_request"
	ReasonUnknown        FailureReason = "unknown"
)

// ProviderError is a structured error from an LLM provider request.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps a raw provider failure with classification.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = classifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// CapabilityError reports a request that exceeds a declared model
// capability. These fail before anything is sent to the provider.
type CapabilityError struct {
	Model      string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("llm: model %q does not support %s", e.Model, e.Capability)
}

// MalformedJSONError is the terminal error raised when a structured
// response fails validation even after the single repair attempt.
type MalformedJSONError struct {
	MissingKeys []string
	ParseErr    error
	Raw         string
}

func (e *MalformedJSONError) Error() string {
	if e.ParseErr != nil {
		return fmt.Sprintf("llm: response is not valid JSON after repair: %v", e.ParseErr)
	}
	return fmt.Sprintf("llm: response JSON missing required keys after repair: %s", strings.Join(e.MissingKeys, ", "))
}

func (e *MalformedJSONError) Unwrap() error { return e.ParseErr }

// IsCapabilityError checks whether err is or wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var capErr *CapabilityError
	return errors.As(err, &capErr)
}

func classifyError(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ReasonTimeout
	}
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ReasonRateLimit
	}
	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return ReasonAuth
	}
	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}
