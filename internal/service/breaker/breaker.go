// Package breaker implements the three-state circuit breaker that gates the
// upstream provider. One shared instance guards each upstream endpoint.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
)

// State of the circuit.
type State int

const (
	// Closed lets requests through and counts failures.
	Closed State = iota
	// HalfOpen admits probes after the reset timeout elapsed.
	HalfOpen
	// Open rejects requests until the reset timeout elapses.
	Open
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the breaker for stats endpoints.
type Snapshot struct {
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	Threshold     int       `json:"threshold"`
	OpenedAt      time.Time `json:"opened_at,omitzero"`
	TotalFailures int64     `json:"total_failures"`
	TotalSuccess  int64     `json:"total_success"`
}

// CircuitBreaker serializes all transitions behind a single mutex.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	threshold     int
	resetTimeout  time.Duration
	window        time.Duration
	state         State
	failureCount  int
	lastFailureAt time.Time
	openedAt      time.Time
	totalFailures int64
	totalSuccess  int64
	now           func() time.Time
}

// New constructs a breaker that opens after threshold failures inside the
// monitoring window and probes again after resetTimeout. A failure streak
// whose last failure is older than the window restarts from one; a zero
// window keeps the streak forever.
func New(name string, threshold int, resetTimeout, window time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		window:       window,
		state:        Closed,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a request may proceed. When the circuit is Open and
// the reset timeout has elapsed, the call itself performs the single
// Open->HalfOpen transition and admits the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = HalfOpen
		observability.SetBreakerState(int(HalfOpen))
		slog.Info("circuit breaker half-open, admitting probe", slog.String("breaker", cb.name))
		return true
	default:
		return false
	}
}

// OnSuccess records a successful call. A half-open probe closes the circuit;
// in Closed state the failure count decays by one.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccess++
	switch cb.state {
	case HalfOpen:
		cb.state = Closed
		cb.failureCount = 0
		cb.openedAt = time.Time{}
		observability.SetBreakerState(int(Closed))
		slog.Info("circuit breaker closed after successful probe", slog.String("breaker", cb.name))
	case Closed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
}

// OnFailure records a failed call and opens the circuit once the failure
// count inside the monitoring window reaches the threshold. A failed
// half-open probe re-opens.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.window > 0 && cb.state == Closed && !cb.lastFailureAt.IsZero() &&
		now.Sub(cb.lastFailureAt) > cb.window {
		// Stale streak; this failure starts a fresh window.
		cb.failureCount = 0
	}
	cb.lastFailureAt = now

	cb.totalFailures++
	cb.failureCount++
	if cb.state != Open && cb.failureCount >= cb.threshold {
		cb.state = Open
		cb.openedAt = now
		observability.SetBreakerState(int(Open))
		slog.Warn("circuit breaker opened",
			slog.String("breaker", cb.name),
			slog.Int("failure_count", cb.failureCount),
			slog.Int("threshold", cb.threshold))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns breaker statistics.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:         cb.state.String(),
		FailureCount:  cb.failureCount,
		Threshold:     cb.threshold,
		OpenedAt:      cb.openedAt,
		TotalFailures: cb.totalFailures,
		TotalSuccess:  cb.totalSuccess,
	}
}
