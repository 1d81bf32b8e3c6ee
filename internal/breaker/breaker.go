package breaker

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// State represents the state of a circuit breaker
type State int

const (
	// StateClosed indicates the circuit is allowing calls to pass through.
	StateClosed State = iota
	// StateOpen indicates the circuit is blocking calls due to failures.
	StateOpen
	// StateHalfOpen indicates the circuit is probing recovery with a single call.
	StateHalfOpen
)

// String returns a string representation of the circuit state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one named operation. Consecutive failures open the
// circuit; after the reset timeout a single probe call is admitted.
type Breaker struct {
	mu                  sync.RWMutex
	name                string
	failureThreshold    int
	resetTimeout        time.Duration
	state               State
	consecutiveFailures int
	probeInFlight       bool
	lastFailureAt       time.Time
	nextAttemptAt       time.Time
	totalCalls          int
	totalFailures       int
	logger              arbor.ILogger

	now func() time.Time // injectable for tests
}

// New creates a breaker for one operation name
func New(name string, failureThreshold int, resetTimeout time.Duration, logger arbor.ILogger) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
		logger:           logger,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the reset timeout elapses, then transitions to half-open and
// admits exactly one probe. Further calls are blocked until the probe
// resolves via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(b.nextAttemptAt) {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		if b.logger != nil {
			b.logger.Debug().
				Str("operation", b.name).
				Msg("Circuit breaker half-open, admitting probe")
		}
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call and closes the circuit when probing
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.consecutiveFailures = 0
	b.probeInFlight = false

	if b.state != StateClosed {
		if b.logger != nil {
			b.logger.Info().
				Str("operation", b.name).
				Str("from", b.state.String()).
				Msg("Circuit breaker closed after successful probe")
		}
		b.state = StateClosed
	}
}

// RecordFailure records a failed call. In the closed state it opens the
// circuit at the failure threshold; in half-open it re-opens immediately
// and restarts the reset timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalFailures++
	b.consecutiveFailures++
	b.lastFailureAt = b.now()
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	case StateOpen:
		// Late failure from a call admitted before opening; timer already set
	}
}

// open transitions to the open state. Caller holds the lock.
func (b *Breaker) open() {
	b.state = StateOpen
	b.nextAttemptAt = b.now().Add(b.resetTimeout)
	if b.logger != nil {
		b.logger.Warn().
			Str("operation", b.name).
			Int("consecutive_failures", b.consecutiveFailures).
			Str("retry_at", b.nextAttemptAt.Format(time.RFC3339)).
			Msg("Circuit breaker opened")
	}
}

// GetState returns the current circuit state
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// CanAttempt reports whether a call would currently be admitted, without
// consuming the half-open probe slot. Callers use it to short-circuit work
// that precedes the guarded call; only Allow reserves the probe.
func (b *Breaker) CanAttempt() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return !b.now().Before(b.nextAttemptAt)
	case StateHalfOpen:
		return !b.probeInFlight
	default:
		return false
	}
}

// CancelProbe releases an admitted call that produced no verdict, such as
// a call abandoned by context cancellation. Counters are untouched; a
// half-open breaker becomes probeable again.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// Name returns the guarded operation name
func (b *Breaker) Name() string {
	return b.name
}

// Stats is a point-in-time snapshot of one breaker
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalCalls          int       `json:"total_calls"`
	TotalFailures       int       `json:"total_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	NextAttemptAt       time.Time `json:"next_attempt_at,omitempty"`
}

// GetStats returns a snapshot of the breaker's counters
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		LastFailureAt:       b.lastFailureAt,
		NextAttemptAt:       b.nextAttemptAt,
	}
}

// Manager holds the process-wide breaker table, one per operation name
type Manager struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	resetTimeout     time.Duration
	logger           arbor.ILogger
}

// NewManager creates a breaker table with shared tuning
func NewManager(failureThreshold int, resetTimeout time.Duration, logger arbor.ILogger) *Manager {
	return &Manager{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
	}
}

// Get returns or creates the breaker for an operation name
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, exists := m.breakers[name]; exists {
		return b
	}
	b = New(name, m.failureThreshold, m.resetTimeout, m.logger)
	m.breakers[name] = b
	return b
}

// AllStats returns snapshots for every registered breaker
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		stats = append(stats, b.GetStats())
	}
	return stats
}
