package sweep

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"library-lending/pkg/apperr"
	"library-lending/pkg/circuitbreaker"
	"library-lending/pkg/clock"
	"library-lending/pkg/policy"
	"library-lending/pkg/queue"
	"library-lending/pkg/session"
)

const (
	defaultMaxRetries   = 5
	defaultBaseDelay    = 30 * time.Second
	defaultJitterFactor = 0.3
	defaultRetryPoll    = 10 * time.Second
)

// SessionSource tells the scheduler who is signed in when a tick fires.
type SessionSource interface {
	Current() (session.Session, bool)
}

type SessionFunc func() (session.Session, bool)

func (f SessionFunc) Current() (session.Session, bool) { return f() }

// Static always reports sess.
func Static(sess session.Session) SessionSource {
	return SessionFunc(func() (session.Session, bool) { return sess, sess.Authenticated() })
}

// Scheduler runs a Sweeper after an initial delay and then on every
// interval. Failed runs caused by the store are queued and retried with
// exponential backoff.
type Scheduler struct {
	sweeper      *Sweeper
	source       SessionSource
	clock        clock.Clock
	initialDelay time.Duration
	interval     time.Duration

	retries      *queue.Queue[session.Session]
	maxRetries   int
	baseDelay    time.Duration
	jitterFactor float64
	retryPoll    time.Duration
}

type SchedulerOption func(*Scheduler)

func WithClock(c clock.Clock) SchedulerOption { return func(s *Scheduler) { s.clock = c } }

// WithRetry sets how often and how patiently failed runs are retried.
func WithRetry(maxRetries int, baseDelay time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.maxRetries = maxRetries
		s.baseDelay = baseDelay
	}
}

// WithJitter sets the largest fraction of a backoff added at random.
func WithJitter(factor float64) SchedulerOption {
	return func(s *Scheduler) { s.jitterFactor = factor }
}

func NewScheduler(sw *Sweeper, src SessionSource, p policy.Policy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sweeper:      sw,
		source:       src,
		clock:        clock.System{},
		initialDelay: p.SweepInitialDelay,
		interval:     p.SweepInterval,
		retries:      queue.New[session.Session](),
		maxRetries:   defaultMaxRetries,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
		retryPoll:    defaultRetryPoll,
	}
	for _, o := range opts {
		o(s)
	}
	if s.interval <= 0 {
		s.interval = policy.DefaultSweepInterval
	}
	return s
}

// Pending returns how many runs are waiting to be retried.
func (s *Scheduler) Pending() int { return s.retries.Size() }

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	start := time.NewTimer(s.initialDelay)
	defer start.Stop()
	select {
	case <-start.C:
	case <-ctx.Done():
		return
	}
	s.Tick(ctx)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	poll := time.NewTicker(s.retryPoll)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Tick(ctx)
		case <-poll.C:
			s.RetryDue(ctx)
		}
	}
}

// Tick runs one sweep for the current session. Without a session the tick
// is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	sess, ok := s.source.Current()
	if !ok {
		log.Printf("[sweep] no signed-in session, skipping")
		s.sweeper.metrics.Sweep("skipped")
		return
	}
	s.attempt(ctx, sess, 0)
}

// RetryDue reruns every queued sweep whose backoff has elapsed.
func (s *Scheduler) RetryDue(ctx context.Context) {
	for {
		it := s.retries.Dequeue(s.clock.Now())
		if it == nil {
			return
		}
		s.attempt(ctx, it.Value, it.RetryCount)
	}
}

func (s *Scheduler) attempt(ctx context.Context, sess session.Session, retries int) {
	rep, err := s.sweeper.RunOnce(ctx, sess)
	if err == nil {
		s.retries.Remove(sess.PatronID)
		log.Printf("[sweep] %s: checked=%d due_soon=%d overdue=%d reminders=%d",
			sess.PatronID, rep.Checked, rep.DueSoon, rep.Overdue, rep.Reminders)
		return
	}
	if !retryable(err) {
		log.Printf("[sweep] %s failed: %v", sess.PatronID, err)
		return
	}

	it := &queue.Item[session.Session]{
		ID:         sess.PatronID,
		Value:      sess,
		RetryCount: retries + 1,
		MaxRetries: s.maxRetries,
	}
	if it.Exhausted() {
		log.Printf("[sweep] %s giving up after %d retries: %v", sess.PatronID, retries, err)
		s.retries.Remove(sess.PatronID)
		return
	}
	it.RetryAt = s.clock.Now().Add(s.backoff(retries))
	s.retries.Enqueue(it)
	log.Printf("[sweep] %s failed, retry %d at %s: %v", sess.PatronID, it.RetryCount, it.RetryAt.Format(time.RFC3339), err)
}

// backoff is baseDelay * 2^retries plus up to jitterFactor of that.
func (s *Scheduler) backoff(retries int) time.Duration {
	delay := s.baseDelay * time.Duration(1<<retries)
	jitter := rand.Float64() * float64(delay) * s.jitterFactor //nolint:gosec // jitter only
	return delay + time.Duration(jitter)
}

func retryable(err error) bool {
	return apperr.IsRetryable(err) || errors.Is(err, circuitbreaker.ErrOpen)
}
