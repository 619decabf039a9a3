package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	c := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCircuitBreakerWithWindow(maxFailures, 30*time.Second, time.Minute).WithClock(c.now), c
}

func fail() error { return errBoom }

func ok() error { return nil }

func TestOpensAfterTooManyFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail, nil), errBoom)
		assert.Equal(t, StateClosed, cb.GetState())
	}
	assert.ErrorIs(t, cb.Execute(fail, nil), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestFallbackWhileOpen(t *testing.T) {
	cb, _ := newTestBreaker(0)
	_ = cb.Execute(fail, nil)
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(ok, func() error { return errors.New("fallback") })
	assert.EqualError(t, err, "fallback")
}

func TestHalfOpenTrial(t *testing.T) {
	cb, c := newTestBreaker(0)
	_ = cb.Execute(fail, nil)

	c.t = c.t.Add(30 * time.Second)
	assert.NoError(t, cb.Execute(ok, nil))
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Execute(fail, nil)
	c.t = c.t.Add(31 * time.Second)
	assert.ErrorIs(t, cb.Execute(fail, nil), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestOldFailuresExpire(t *testing.T) {
	cb, c := newTestBreaker(1)
	_ = cb.Execute(fail, nil)
	c.t = c.t.Add(2 * time.Minute)
	_ = cb.Execute(fail, nil)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
