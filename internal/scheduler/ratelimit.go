package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DirectoryLimiter enforces a minimum spacing between calls to any one
// directory, independent of the pool-wide concurrency cap. Limiters are
// created lazily per directory ID.
type DirectoryLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewDirectoryLimiter creates a limiter registry with the given spacing
func NewDirectoryLimiter(interval time.Duration) *DirectoryLimiter {
	return &DirectoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until the directory's limiter grants a slot or the context
// is cancelled. The first call per directory proceeds immediately.
func (l *DirectoryLimiter) Wait(ctx context.Context, directoryID string) error {
	return l.get(directoryID).Wait(ctx)
}

func (l *DirectoryLimiter) get(directoryID string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[directoryID]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[directoryID]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(l.interval), 1)
	l.limiters[directoryID] = limiter
	return limiter
}
