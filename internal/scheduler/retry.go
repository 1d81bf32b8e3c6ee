package scheduler

import (
	"math/rand"
	"strings"
	"time"

	"github.com/ternarybob/autobolt/internal/common"
)

// retryableFragments classify a failed attempt by message substring,
// case-insensitive. Anything else is non-retryable for this job.
var retryableFragments = []string{
	"timeout",
	"network error",
	"temporarily unavailable",
	"rate limit",
	"service unavailable",
	"connection reset",
}

// IsRetryableMessage reports whether a failure message indicates a
// transient condition worth retrying
func IsRetryableMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, fragment := range retryableFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// RetryPolicy defines per-directory retry behavior with exponential backoff
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewRetryPolicy builds the policy from configuration
func NewRetryPolicy(config *common.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: config.MaxRetries,
		BaseDelay:  config.BaseDelay,
		MaxDelay:   config.MaxDelay,
	}
}

// ShouldRetry decides whether a failed attempt gets another try. retries is
// the count already consumed for this (job, directory) pair.
func (p *RetryPolicy) ShouldRetry(retries int, message string) bool {
	if retries >= p.MaxRetries {
		return false
	}
	return IsRetryableMessage(message)
}

// Backoff returns the delay before retry k (1-based): the base delay doubled
// per retry, capped, plus uniform jitter in [0, 10%].
func (p *RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= float64(p.MaxDelay) {
			break
		}
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := rand.Float64() * 0.1 * delay
	return time.Duration(delay + jitter)
}
