package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind drives the orchestrator's retry policy: rate-limited calls
// are retried with backoff, transient failures once, fatal ones never.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindRateLimited
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// ProviderError is a classified upstream failure.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	APIType    string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm provider error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm provider error (%s): %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Retryable() bool {
	return e.Kind != KindFatal
}

// AsProviderError unwraps err to a ProviderError if there is one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
