package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As
type TransientNetworkError struct{ ObserverError }
type ParseError struct{ ObserverError }
type UpstreamUnavailable struct{ ObserverError }
type StaleDataError struct{ ObserverError }
type ConfigurationError struct{ ObserverError }
type ValidationError struct{ ObserverError }
type DatabaseError struct{ ObserverError }

// RateLimitError carries the upstream retry hint when one was given.
type RateLimitError struct {
	ObserverError
	RetryAfter time.Duration
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewTransientNetworkError(msg string, cause error) error {
	return &TransientNetworkError{ObserverError{Message: msg, Cause: cause}}
}

func NewParseError(msg string, cause error) error {
	return &ParseError{ObserverError{Message: msg, Cause: cause}}
}

func NewUpstreamUnavailable(msg string, cause error) error {
	return &UpstreamUnavailable{ObserverError{Message: msg, Cause: cause}}
}

func NewStaleDataError(msg string) error {
	return &StaleDataError{ObserverError{Message: msg}}
}

func NewConfigurationError(msg string, cause error) error {
	return &ConfigurationError{ObserverError{Message: msg, Cause: cause}}
}

func NewValidationError(msg string) error {
	return &ValidationError{ObserverError{Message: msg}}
}

func NewDatabaseError(msg string, cause error) error {
	return &DatabaseError{ObserverError{Message: msg, Cause: cause}}
}

func NewRateLimitError(msg string, retryAfter time.Duration) error {
	return &RateLimitError{ObserverError: ObserverError{Message: msg}, RetryAfter: retryAfter}
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRateLimit reports whether err is a RateLimitError and returns it.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// -----------------------------------------------------------------------------

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// -----------------------------------------------------------------------------

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// -----------------------------------------------------------------------------

// ClassifyStatus maps an HTTP status from an upstream into the error taxonomy.
// A nil return means the status is a success.
func ClassifyStatus(operation string, status int, header http.Header) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == 418:
		return NewRateLimitError(fmt.Sprintf("%s rate limited (status %d)", operation, status), ParseRetryAfter(header))
	case status >= 500:
		return NewUpstreamUnavailable(fmt.Sprintf("%s upstream unavailable (status %d)", operation, status), nil)
	default:
		return NewTransientNetworkError(fmt.Sprintf("%s bad status %d", operation, status), nil)
	}
}

// -----------------------------------------------------------------------------

// ClassifyMessage wraps an opaque client-library error, recognising rate
// limit responses by their text.
func ClassifyMessage(operation string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return &RateLimitError{ObserverError: ObserverError{Message: operation + " rate limited", Cause: err}}
	}
	return NewTransientNetworkError(operation+" failed", err)
}

// -----------------------------------------------------------------------------

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
