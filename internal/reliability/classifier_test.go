package reliability

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusNotFound:            false,
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	for code, want := range retryable {
		if got := IsRetryableHTTPStatus(code); got != want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(fmt.Errorf("suno poll: %w", context.Canceled)) {
		t.Fatalf("IsCancellation(wrapped Canceled) = false, want true")
	}
	if IsCancellation(context.DeadlineExceeded) {
		t.Fatalf("IsCancellation(DeadlineExceeded) = true, want false")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("Sleep() error = nil, want context error")
	}
}
