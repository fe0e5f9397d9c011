package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPError is a structured failure from an outbound provider call. It
// captures enough context (operation, provider label, status) for audit
// logging without exposing response bodies to end users.
type HTTPError struct {
	Operation  string
	Provider   string
	StatusCode int
	Status     string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s): %s", e.Operation, e.Provider, e.Status)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, e.Provider, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: a network error or a
// 5xx status. Definite 4xx rejections are never retried; replaying a token
// exchange after a 4xx could make the provider treat the authorization code
// as reused and invalidate it.
func (e *HTTPError) Retryable() bool {
	if e.StatusCode == 0 {
		return true // network-level failure
	}
	return e.StatusCode >= 500
}

// RetryPolicy bounds retry behavior for outbound provider calls.
type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the bounded default: 3 attempts with
// exponential backoff starting at 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retry runs fn up to policy.MaxAttempts times with exponential backoff,
// re-attempting only transient failures (network errors, 5xx). A non-HTTPError
// or a non-retryable HTTPError stops immediately. The context cancels both
// waits and in-flight attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval

	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return backoff.RetryWithData(func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Retryable() {
			return v, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}

// checkStatus converts a non-2xx response into an *HTTPError and drains
// nothing; callers own the body on success.
func checkStatus(resp *http.Response, operation, provider string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &HTTPError{
		Operation:  operation,
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
}

// wrapNetErr converts a transport-level error into an *HTTPError.
func wrapNetErr(err error, operation, provider string) error {
	return &HTTPError{Operation: operation, Provider: provider, Err: err}
}
