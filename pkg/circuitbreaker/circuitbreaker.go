package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// CircuitBreaker opens after more than maxFailures failures within window
// and stays open for timeout. The first call after that is a trial: success
// closes the breaker, failure opens it again.
type CircuitBreaker struct {
	maxFailures int
	window      time.Duration
	timeout     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures []time.Time
	openedAt time.Time
	state    State
}

func NewCircuitBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithWindow(maxFailures, timeout, 60*time.Second)
}

func NewCircuitBreakerWithWindow(maxFailures int, timeout time.Duration, window time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		window:      window,
		timeout:     timeout,
		now:         time.Now,
		state:       StateClosed,
		failures:    make([]time.Time, 0),
	}
}

// WithClock replaces the time source. It is meant for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// allow decides whether a call may go through, moving an expired open
// breaker to half-open.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.state = StateHalfOpen
		cb.failures = cb.failures[:0]
		return true
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.cleanOldFailures(now)
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.failures = cb.failures[:0]
		}
		return
	}

	cb.failures = append(cb.failures, now)
	if len(cb.failures) > cb.maxFailures || cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = now
	}
}

// Execute runs fn unless the breaker is open. When it is open, fallback
// runs instead if given; otherwise ErrOpen is returned.
func (cb *CircuitBreaker) Execute(fn func() error, fallback func() error) error {
	if !cb.allow() {
		if fallback != nil {
			return fallback()
		}
		return ErrOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) cleanOldFailures(now time.Time) {
	cutoff := now.Add(-cb.window)
	keep := 0
	for keep < len(cb.failures) && !cb.failures[keep].After(cutoff) {
		keep++
	}
	cb.failures = cb.failures[keep:]
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
