package circulation

import (
	"context"
	"errors"

	"library-lending/pkg/apperr"
	"library-lending/pkg/borrows"
	"library-lending/pkg/docstore"
	"library-lending/pkg/fines"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// OverdueResult describes what AssessOverdue found and did.
type OverdueResult struct {
	Record     models.BorrowRecord
	Assessment fines.Assessment
	// Entered is set when the loan moved from Active to Overdue.
	Entered bool
	// Written is false when nothing changed or the record moved on.
	Written bool
}

func stateOf(rec models.BorrowRecord) fines.State {
	return fines.State{
		OverdueSince: rec.OverdueSince,
		OverdueDays:  rec.OverdueDays,
		FinePerDay:   rec.FinePerDay,
		FineCarried:  rec.FineCarried,
		FineAmount:   rec.FineAmount,
		FinePaid:     rec.FinePaid,
	}
}

// AssessOverdue recomputes rec's overdue fields as of now and stores them.
// Running it again for the same day writes nothing. A record that changed
// state since it was read is left alone.
func (s *Service) AssessOverdue(ctx context.Context, rec models.BorrowRecord) (OverdueResult, error) {
	res := OverdueResult{Record: rec}
	if rec.DueDate == nil {
		return res, nil
	}
	if rec.Status != lifecycle.StatusActive && rec.Status != lifecycle.StatusOverdue {
		return res, nil
	}

	a := fines.Assess(s.now(), *rec.DueDate, stateOf(rec), s.policy.FinePerDay, s.policy.Loc())
	res.Assessment = a
	if !a.Overdue {
		return res, nil
	}

	to := rec.Status
	if next, ok := lifecycle.Next(rec.Status, lifecycle.EventMarkOverdue); ok {
		to = next
	}
	entered := to != rec.Status
	if !entered && !a.FirstTime && a.State.OverdueDays == rec.OverdueDays && a.State.FineAmount == rec.FineAmount {
		return res, nil
	}

	fields := docstore.Fields{
		"status":        to,
		"overdue_since": a.State.OverdueSince,
		"overdue_days":  a.State.OverdueDays,
		"fine_per_day":  a.State.FinePerDay,
		"fine_amount":   a.State.FineAmount,
	}
	if a.FirstTime {
		fields["fine_paid"] = false
	}

	err := s.run(ctx, lifecycle.EventMarkOverdue, rec.ID, func(ctx context.Context) error {
		updated, err := s.records.Transition(ctx, rec.ID, rec.Status, fields)
		if err != nil {
			return err
		}
		res.Record = updated
		return nil
	})
	if errors.Is(err, apperr.ErrStaleWrite) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Written = true
	res.Entered = entered
	if entered {
		s.metrics.Overdue()
	}
	return res, nil
}

// MyBorrows lists the session patron's records.
func (s *Service) MyBorrows(ctx context.Context, sess session.Session, statuses ...lifecycle.Status) ([]models.BorrowRecord, error) {
	if err := requireSession("circulation.MyBorrows", sess); err != nil {
		return nil, err
	}
	return s.records.ListByPatron(ctx, sess.PatronID, statuses...)
}

// Get returns one record, to its owner or a librarian.
func (s *Service) Get(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireOwner("circulation.Get", sess, rec); err != nil {
		return models.BorrowRecord{}, err
	}
	return rec, nil
}

// Queue lists records waiting in one of the librarian's queues.
func (s *Service) Queue(ctx context.Context, sess session.Session, status lifecycle.Status) ([]models.BorrowRecord, error) {
	const op = "circulation.Queue"
	if err := requireLibrarian(op, sess); err != nil {
		return nil, err
	}
	switch status {
	case lifecycle.StatusPendingApproval, lifecycle.StatusPendingReturnApproval, lifecycle.StatusPendingRenewalApproval:
	default:
		return nil, apperr.Invalid(op, "%s is not a request queue", status)
	}
	return s.records.ListByStatus(ctx, status)
}

func (s *Service) Stats(ctx context.Context, sess session.Session) (borrows.Stats, error) {
	if err := requireLibrarian("circulation.Stats", sess); err != nil {
		return borrows.Stats{}, err
	}
	return s.records.Stats(ctx)
}
