// Package sweep re-evaluates time-dependent loan state for one session:
// due-soon reminders, overdue marking with fines, and repeat overdue
// reminders. It only ever looks at the session's own loans.
package sweep

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"library-lending/pkg/apperr"
	"library-lending/pkg/circuitbreaker"
	"library-lending/pkg/circulation"
	"library-lending/pkg/fines"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/metrics"
	"library-lending/pkg/models"
	"library-lending/pkg/notify"
	"library-lending/pkg/obs"
	"library-lending/pkg/session"
)

// Report counts what one run did.
type Report struct {
	Checked   int `json:"checked"`
	DueSoon   int `json:"dueSoon"`
	Overdue   int `json:"markedOverdue"`
	Reminders int `json:"reminders"`
	Updated   int `json:"updated"`
}

type Sweeper struct {
	svc     *circulation.Service
	sink    notify.Sink
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Sweeper)

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Sweeper) { s.breaker = cb }
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

func New(svc *circulation.Service, sink notify.Sink, opts ...Option) *Sweeper {
	s := &Sweeper{
		svc:     svc,
		sink:    sink,
		breaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		tracer:  obs.Tracer("sweep"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce sweeps the loans of sess. Per-record failures do not stop the
// run; they are joined into the returned error.
func (s *Sweeper) RunOnce(ctx context.Context, sess session.Session) (Report, error) {
	var rep Report
	if !sess.Authenticated() {
		return rep, apperr.Unauthenticated("sweep.run")
	}

	ctx, span := s.tracer.Start(ctx, "sweep.run",
		trace.WithAttributes(attribute.String("patron.id", sess.PatronID)))
	defer span.End()

	err := s.run(ctx, sess, &rep)
	outcome := "ok"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		outcome = "breaker_open"
	case err != nil:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("sweep.checked", rep.Checked), attribute.Int("sweep.overdue", rep.Overdue))
	s.metrics.Sweep(outcome)
	return rep, err
}

func (s *Sweeper) run(ctx context.Context, sess session.Session, rep *Report) error {
	var recs []models.BorrowRecord
	err := s.breaker.Execute(func() error {
		var err error
		recs, err = s.svc.Records().ListByPatron(ctx, sess.PatronID, lifecycle.StatusActive, lifecycle.StatusOverdue)
		return err
	}, nil)
	if err != nil {
		return err
	}

	p := s.svc.Policy()
	now := s.svc.Clock().Now()
	// sent holds the notices of this run only. A later run sends them
	// again; the inbox keeps one copy per notice id.
	sent := make(map[string]struct{})
	var errs []error
	for _, rec := range recs {
		if rec.DueDate == nil {
			continue
		}
		rep.Checked++

		if rec.Status == lifecycle.StatusActive {
			if days := fines.DaysUntilDue(now, *rec.DueDate, p.Loc()); p.IsDueSoon(days) {
				if s.deliver(ctx, sent, notify.DueSoon(rec, days)) {
					rep.DueSoon++
				}
			}
		}

		var res circulation.OverdueResult
		err := s.breaker.Execute(func() error {
			var err error
			res, err = s.svc.AssessOverdue(ctx, rec)
			return err
		}, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Written {
			rep.Updated++
		}
		switch {
		case res.Entered:
			rep.Overdue++
			s.deliver(ctx, sent, notify.OverdueNotice(res.Record))
		case res.Assessment.Overdue && res.Record.Status == lifecycle.StatusOverdue &&
			fines.RepeatReminderDue(res.Assessment.State.OverdueDays, p.ReminderIntervalDays):
			if s.deliver(ctx, sent, notify.OverdueReminder(res.Record)) {
				rep.Reminders++
			}
		}
	}
	return errors.Join(errs...)
}

// deliver hands m to the sink unless this run already sent it. It reports
// whether the message went out.
func (s *Sweeper) deliver(ctx context.Context, sent map[string]struct{}, m notify.Message) bool {
	id := m.ID()
	if _, dup := sent[id]; dup {
		return false
	}
	sent[id] = struct{}{}

	m.At = s.svc.Clock().Now()
	if err := s.sink.Deliver(ctx, m); err != nil {
		log.Printf("[sweep] delivering %s for %s: %v", m.Kind, m.BorrowID, err)
	}
	return true
}
