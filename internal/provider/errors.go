package provider

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass categorizes provider errors for retry decisions.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassServer          ErrorClass = "SERVER"
	ErrorClassBadRequest      ErrorClass = "BAD_REQUEST"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown         ErrorClass = "UNKNOWN"
)

// Error is a classified provider failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider: %s (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Class, e.Message)
}

// Retryable reports whether the failure is worth retrying with backoff.
// Auth and malformed-request failures are final; context overflow is
// handled by compaction, not by retrying the same request.
func (e *Error) Retryable() bool {
	switch e.Class {
	case ErrorClassRateLimit, ErrorClassTimeout, ErrorClassServer:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorClassTimeout
	case status >= 500:
		return ErrorClassServer
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrorClassBadRequest
	}
	return ErrorClassUnknown
}

// ClassifyMessage inspects an error message for known patterns, refining a
// class derived from the status code alone.
func ClassifyMessage(msg string) ErrorClass {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "token limit") ||
		strings.Contains(lower, "max tokens") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "context window") {
		return ErrorClassContextOverflow
	}
	if strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid key") ||
		strings.Contains(lower, "forbidden") {
		return ErrorClassAuth
	}
	if strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "too many requests") {
		return ErrorClassRateLimit
	}
	if strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") {
		return ErrorClassTimeout
	}
	return ErrorClassUnknown
}

// newError builds a classified error from an HTTP failure. The message
// pattern wins over the status code when it is more specific.
func newError(status int, msg string) *Error {
	class := classifyStatus(status)
	if refined := ClassifyMessage(msg); refined != ErrorClassUnknown {
		class = refined
	}
	return &Error{Class: class, StatusCode: status, Message: msg}
}
