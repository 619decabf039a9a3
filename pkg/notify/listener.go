package notify

import (
	"context"
	"log"
	"sync"

	"library-lending/pkg/clock"
	"library-lending/pkg/docstore"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/metrics"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// feed is one subscription and the engine that reads it.
type feed struct {
	name    string
	filters []docstore.Filter
	engine  *Engine
}

// Listener owns the notification feeds of one session. Feeds are torn down
// on Stop and rebuilt, warming up again, on the next Start or role change.
type Listener struct {
	records *docstore.Collection[models.BorrowRecord]
	sink    Sink
	clock   clock.Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	sess    session.Session
	feeds   []*feed
	cancel  context.CancelFunc
	running sync.WaitGroup
}

type ListenerOption func(*Listener)

func WithListenerClock(c clock.Clock) ListenerOption { return func(l *Listener) { l.clock = c } }

func WithListenerMetrics(m *metrics.Metrics) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

func NewListener(store *docstore.Store, sink Sink, opts ...ListenerOption) *Listener {
	l := &Listener{
		records: docstore.C[models.BorrowRecord](store),
		sink:    sink,
		clock:   clock.System{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func feedsFor(sess session.Session) []*feed {
	if sess.IsLibrarian() {
		queue := func(name string, s lifecycle.Status) *feed {
			return &feed{
				name:    name,
				filters: []docstore.Filter{docstore.Eq("status", s)},
				engine:  NewEngine(session.RoleLibrarian, NotifyOnAdded(true)),
			}
		}
		return []*feed{
			queue("pending_borrows", lifecycle.StatusPendingApproval),
			queue("pending_returns", lifecycle.StatusPendingReturnApproval),
			queue("pending_renewals", lifecycle.StatusPendingRenewalApproval),
		}
	}
	return []*feed{{
		name:    "patron",
		filters: []docstore.Filter{docstore.Eq("patron_id", sess.PatronID)},
		engine:  NewEngine(session.RolePatron),
	}}
}

// Start subscribes the feeds for sess, replacing any that are running.
func (l *Listener) Start(ctx context.Context, sess session.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()

	if !sess.Authenticated() {
		return nil
	}

	fctx, cancel := context.WithCancel(ctx)
	feeds := feedsFor(sess)
	for _, f := range feeds {
		f.engine.Begin()
		ch, err := l.records.Subscribe(fctx, f.filters...)
		if err != nil {
			cancel()
			l.running.Wait()
			return err
		}
		l.running.Add(1)
		l.metrics.FeedStarted()
		go l.consume(fctx, sess, f, ch)
	}
	l.sess, l.feeds, l.cancel = sess, feeds, cancel
	log.Printf("[notify] %d feed(s) started for %s (%s)", len(feeds), sess.PatronID, sess.Role)
	return nil
}

func (l *Listener) consume(ctx context.Context, sess session.Session, f *feed, ch <-chan docstore.Snapshot[models.BorrowRecord]) {
	defer l.running.Done()
	defer l.metrics.FeedStopped()

	for snap := range ch {
		for _, m := range f.engine.Apply(snap) {
			if m.Audience == session.RoleLibrarian {
				m.Recipient = sess.PatronID
			}
			m.At = l.clock.Now()
			if err := l.sink.Deliver(ctx, m); err != nil {
				log.Printf("[notify] %s feed: delivering %s for %s: %v", f.name, m.Kind, m.BorrowID, err)
			}
		}
	}
}

// SwitchRole restarts the feeds for the same person under a new role.
func (l *Listener) SwitchRole(ctx context.Context, role session.Role) error {
	l.mu.Lock()
	sess := l.sess
	l.mu.Unlock()
	sess.Role = role
	return l.Start(ctx, sess)
}

func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Listener) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.running.Wait()
	log.Printf("[notify] feeds stopped for %s", l.sess.PatronID)
	l.cancel, l.feeds = nil, nil
	l.sess = session.Session{}
}

// Phases reports the phase of every running feed, keyed by feed name.
func (l *Listener) Phases() map[string]Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Phase, len(l.feeds))
	for _, f := range l.feeds {
		out[f.name] = f.engine.Phase()
	}
	return out
}
