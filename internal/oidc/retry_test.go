package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())
	status, err := Retry(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := pool.Do(req)
		if err != nil {
			return 0, wrapNetErr(err, "test_op", "test-idp")
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, "test_op", "test-idp"); err != nil {
			return 0, err
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status: got %d", status)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetry_DoesNotRetryDefiniteRejection(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())
	_, err := Retry(context.Background(), fastPolicy(), func(ctx context.Context) (struct{}, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := pool.Do(req)
		if err != nil {
			return struct{}{}, wrapNetErr(err, "token_exchange", "test-idp")
		}
		defer resp.Body.Close()
		return struct{}{}, checkStatus(resp, "token_exchange", "test-idp")
	})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d", httpErr.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("4xx must not be retried: got %d attempts", got)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())
	_, err := Retry(context.Background(), fastPolicy(), func(ctx context.Context) (struct{}, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := pool.Do(req)
		if err != nil {
			return struct{}{}, wrapNetErr(err, "test_op", "test-idp")
		}
		defer resp.Body.Close()
		return struct{}{}, checkStatus(resp, "test_op", "test-idp")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts atomic.Int64
	_, err := Retry(ctx, fastPolicy(), func(ctx context.Context) (struct{}, error) {
		attempts.Add(1)
		return struct{}{}, &HTTPError{Operation: "test_op", Provider: "test-idp", Err: errors.New("dial refused")}
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := attempts.Load(); got > 1 {
		t.Errorf("cancelled context should stop retries, got %d attempts", got)
	}
}

func TestHTTPError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true}, // network error
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{429, false},
	}
	for _, tt := range tests {
		e := &HTTPError{Operation: "op", Provider: "p", StatusCode: tt.status}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Retryable(status=%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
