package alerts

import (
	"sync"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Throttle tracks per-key trigger history so a noisy condition cannot flood
// recipients. A key is throttled while inside its condition's window; repeat
// triggers within the escalation window past a count threshold escalate.
type Throttle struct {
	mu    sync.Mutex
	state map[string]*domain.ThrottleState
	now   func() time.Time
}

// NewThrottle constructs an empty throttle table.
func NewThrottle() *Throttle {
	return &Throttle{state: make(map[string]*domain.ThrottleState), now: time.Now}
}

// WithClock overrides the time source for tests.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Decision is the outcome of one throttle check.
type Decision struct {
	Suppressed bool
	Escalated  bool
	Count      int
}

// Check records a trigger attempt for key and decides whether the alert
// fires, is suppressed, or fires escalated. A trigger inside the throttle
// window is always suppressed but still counted, so at most one alert fires
// per window. The first trigger past the window fires escalated when the
// accumulated count inside the escalation window exceeds escalateAfter.
func (t *Throttle) Check(key string, window, escalationWindow time.Duration, escalateAfter int) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st, ok := t.state[key]
	if !ok || now.Sub(st.LastTriggeredAt) > escalationWindow {
		t.state[key] = &domain.ThrottleState{LastTriggeredAt: now, Count: 1}
		return Decision{Count: 1}
	}

	st.Count++
	if now.Sub(st.LastTriggeredAt) <= window {
		return Decision{Suppressed: true, Count: st.Count}
	}
	st.LastTriggeredAt = now
	if !st.Escalated && st.Count > escalateAfter {
		st.Escalated = true
		return Decision{Escalated: true, Count: st.Count}
	}
	return Decision{Count: st.Count}
}

// Reset clears the history for a key, typically after acknowledgement.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, key)
}

// Sweep drops entries idle longer than maxIdle and returns how many.
func (t *Throttle) Sweep(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, st := range t.state {
		if now.Sub(st.LastTriggeredAt) > maxIdle {
			delete(t.state, k)
			n++
		}
	}
	return n
}
