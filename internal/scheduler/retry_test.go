package scheduler

import (
	"testing"
	"time"

	"github.com/ternarybob/autobolt/internal/common"
)

func TestIsRetryableMessage(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		retryable bool
	}{
		{name: "timeout", message: "attempt timeout", retryable: true},
		{name: "network error", message: "network error: navigation failed: net::ERR_CONNECTION_REFUSED", retryable: true},
		{name: "temporarily unavailable", message: "directory temporarily unavailable", retryable: true},
		{name: "rate limit", message: "Rate Limit exceeded, slow down", retryable: true},
		{name: "service unavailable", message: "503 Service Unavailable", retryable: true},
		{name: "connection reset", message: "read tcp: connection reset by peer", retryable: true},
		{name: "form missing", message: "no submission form detected", retryable: false},
		{name: "no indicator", message: "no success indicator on response page", retryable: false},
		{name: "captcha", message: "captcha challenge presented", retryable: false},
		{name: "empty", message: "", retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableMessage(tt.message); got != tt.retryable {
				t.Errorf("IsRetryableMessage(%q) = %v, want %v", tt.message, got, tt.retryable)
			}
		})
	}
}

func TestShouldRetryRespectsBudget(t *testing.T) {
	policy := NewRetryPolicy(&common.RetryConfig{MaxRetries: 3, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second})

	if !policy.ShouldRetry(0, "network error") {
		t.Error("first retry of a transient failure should be allowed")
	}
	if !policy.ShouldRetry(2, "attempt timeout") {
		t.Error("third retry should still be within budget")
	}
	if policy.ShouldRetry(3, "network error") {
		t.Error("budget exhausted, no retry")
	}
	if policy.ShouldRetry(0, "no submission form detected") {
		t.Error("non-transient failures never retry")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	policy := NewRetryPolicy(&common.RetryConfig{MaxRetries: 3, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second})

	tests := []struct {
		retry int
		base  time.Duration
	}{
		{retry: 1, base: 5 * time.Second},
		{retry: 2, base: 10 * time.Second},
		{retry: 3, base: 20 * time.Second},
		{retry: 4, base: 40 * time.Second},
		{retry: 5, base: 60 * time.Second}, // capped
		{retry: 9, base: 60 * time.Second},
	}

	for _, tt := range tests {
		got := policy.Backoff(tt.retry)
		upper := tt.base + time.Duration(float64(tt.base)*0.1)
		if got < tt.base || got > upper {
			t.Errorf("Backoff(%d) = %v, want within [%v, %v]", tt.retry, got, tt.base, upper)
		}
	}
}
