package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// LLMError is the base error type for all LLM client errors.
type LLMError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses from the provider.
type ServerError struct{ LLMError }

// AuthError is returned on authentication/authorization failures.
type AuthError struct{ LLMError }

// ContextLengthError is returned when the request exceeds the model's context window.
type ContextLengthError struct{ LLMError }

// ContentFilterError is returned when the request is blocked by the provider's safety filter.
type ContentFilterError struct{ LLMError }

// FromStatus classifies an HTTP status code from a generation backend into
// the error taxonomy. Codes without a specific class yield a plain *LLMError.
func FromStatus(code int, msg string, cause error) error {
	base := LLMError{Code: code, Message: msg, Cause: cause}
	switch {
	case code == 429:
		return &RateLimitError{LLMError: base}
	case code == 401 || code == 403:
		return &AuthError{LLMError: base}
	case code == 400:
		return &ContextLengthError{LLMError: base}
	case code >= 500 && code <= 599:
		return &ServerError{LLMError: base}
	default:
		return &base
	}
}

// Retryable returns true if the error is transient and the request may be retried.
func Retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// Backoff controls WithRetryBackoff. Zero fields take the defaults used by
// WithRetry.
type Backoff struct {
	BaseDelay time.Duration // default 1s
	MaxDelay  time.Duration // default 30s
}

// WithRetry retries fn up to maxAttempts using exponential backoff with jitter.
// It respects context cancellation.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	return WithRetryBackoff(ctx, maxAttempts, Backoff{}, fn)
}

// WithRetryBackoff is WithRetry with a configurable delay schedule.
func WithRetryBackoff(ctx context.Context, maxAttempts int, b Backoff, fn func() error) error {
	if b.BaseDelay <= 0 {
		b.BaseDelay = time.Second
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 30 * time.Second
	}
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		// Exponential backoff capped at MaxDelay, ±25% jitter
		base := b.BaseDelay << uint(i)
		if base > b.MaxDelay || base <= 0 {
			base = b.MaxDelay
		}
		jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
		wait := base/4*3 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
