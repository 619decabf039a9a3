// Package circulation drives borrow records through their lifecycle. Each
// operation checks the transition table, applies its guards, then commits
// with conditional writes so that a concurrent change makes the operation
// fail instead of overwriting it.
package circulation

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"library-lending/pkg/apperr"
	"library-lending/pkg/borrows"
	"library-lending/pkg/clock"
	"library-lending/pkg/inventory"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/metrics"
	"library-lending/pkg/models"
	"library-lending/pkg/obs"
	"library-lending/pkg/policy"
	"library-lending/pkg/session"
)

// Notifier hears about outcomes a patron must be told about even when none
// of their feeds is live.
type Notifier interface {
	RenewalDecided(ctx context.Context, rec models.BorrowRecord) error
}

type Service struct {
	ledger  *inventory.Ledger
	records *borrows.Store
	policy  policy.Policy

	notifier Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(ledger *inventory.Ledger, records *borrows.Store, p policy.Policy, opts ...Option) *Service {
	s := &Service{
		ledger:  ledger,
		records: records,
		policy:  p,
		clock:   clock.System{},
		tracer:  obs.Tracer("circulation"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Policy() policy.Policy { return s.policy }

func (s *Service) Ledger() *inventory.Ledger { return s.ledger }

func (s *Service) Records() *borrows.Store { return s.records }

func (s *Service) Clock() clock.Clock { return s.clock }

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// run wraps one lifecycle operation in a span and counts its outcome.
func (s *Service) run(ctx context.Context, e lifecycle.Event, id string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "circulation."+e.String(),
		trace.WithAttributes(attribute.String("borrow.id", id)))
	defer span.End()

	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.Transition(e.String(), outcome)
	return err
}

func requireSession(op string, sess session.Session) error {
	if !sess.Authenticated() {
		return apperr.Unauthenticated(op)
	}
	return nil
}

func requireLibrarian(op string, sess session.Session) error {
	if err := requireSession(op, sess); err != nil {
		return err
	}
	if !sess.IsLibrarian() {
		return apperr.Forbidden(op)
	}
	return nil
}

// requireOwner lets the borrowing patron, or any librarian, act on rec.
func requireOwner(op string, sess session.Session, rec models.BorrowRecord) error {
	if err := requireSession(op, sess); err != nil {
		return err
	}
	if rec.PatronID != sess.PatronID && !sess.IsLibrarian() {
		return apperr.Forbidden(op)
	}
	return nil
}

// load fetches a record and checks that e may be applied to it.
func (s *Service) load(ctx context.Context, op, id string, e lifecycle.Event) (models.BorrowRecord, lifecycle.Status, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return rec, lifecycle.StatusUnknown, err
	}
	to, ok := lifecycle.Next(rec.Status, e)
	if !ok {
		return rec, lifecycle.StatusUnknown, apperr.Conflict(op, apperr.ReasonInvalidTransition)
	}
	return rec, to, nil
}

func (s *Service) renewalDecided(ctx context.Context, rec models.BorrowRecord) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.RenewalDecided(ctx, rec); err != nil {
		log.Printf("[circulation] renewal notice for %s failed: %v", rec.ID, err)
	}
}
