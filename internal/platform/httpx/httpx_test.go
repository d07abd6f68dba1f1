package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 599} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d retryable", code)
		}
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d not retryable", code)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatalf("nil should not be retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Fatalf("cancellation should not be retryable")
	}
	if !IsRetryableError(fmt.Errorf("wrapped: %w", &statusErr{code: 503})) {
		t.Fatalf("wrapped 503 should be retryable")
	}
	if IsRetryableError(fmt.Errorf("wrapped: %w", &statusErr{code: 404})) {
		t.Fatalf("wrapped 404 should not be retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 3*time.Second {
		t.Fatalf("expected header value, got %v", got)
	}
	if got := RetryAfterDuration(resp, time.Second, 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected cap applied, got %v", got)
	}
	if got := RetryAfterDuration(nil, time.Second, 10*time.Second); got != time.Second {
		t.Fatalf("expected fallback without response, got %v", got)
	}
	resp.Header.Set("Retry-After", "soon")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != time.Second {
		t.Fatalf("expected fallback for unparsable header, got %v", got)
	}
}

func TestJitterSleep_StaysWithinBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		v := JitterSleep(base)
		if v < 800*time.Millisecond || v > 1200*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", v)
		}
	}
	if JitterSleep(0) != 0 {
		t.Fatalf("expected zero for non-positive base")
	}
}
