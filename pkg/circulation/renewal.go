package circulation

import (
	"context"

	"gorm.io/gorm"

	"library-lending/pkg/apperr"
	"library-lending/pkg/docstore"
	"library-lending/pkg/fines"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// RequestRenewal asks for more time on an active or overdue loan. The
// quota is checked before anything is written.
func (s *Service) RequestRenewal(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.RequestRenewal"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventRequestRenewal, id, func(ctx context.Context) error {
		rec, err := s.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(op, sess, rec); err != nil {
			return err
		}
		to, ok := lifecycle.Next(rec.Status, lifecycle.EventRequestRenewal)
		if !ok {
			return apperr.Conflict(op, apperr.ReasonInvalidTransition)
		}
		if rec.RenewalsUsed >= rec.RenewalsAllowed {
			return apperr.Conflict(op, apperr.ReasonRenewalQuotaExhausted)
		}
		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{
			"status":               to,
			"prior_status":         rec.Status,
			"renewal_request_date": s.now(),
			"renewal_decision":     "",
		})
		return err
	})
	return out, err
}

// ApproveRenewal pushes the due date out by one renewal period, counted
// from the current due date.
func (s *Service) ApproveRenewal(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.ApproveRenewal"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventApproveRenewal, id, func(ctx context.Context) error {
		if err := requireLibrarian(op, sess); err != nil {
			return err
		}
		rec, to, err := s.load(ctx, op, id, lifecycle.EventApproveRenewal)
		if err != nil {
			return err
		}
		if rec.RenewalsUsed >= rec.RenewalsAllowed {
			return apperr.Conflict(op, apperr.ReasonRenewalQuotaExhausted)
		}
		due := s.policy.LoanDue(s.now(), nil)
		if rec.DueDate != nil {
			due = s.policy.ExtendDue(*rec.DueDate)
		}
		fields := docstore.Fields{
			"status":           to,
			"due_date":         due,
			"renewals_used":    gorm.Expr("renewals_used + 1"),
			"renewal_decision": models.RenewalApproved,
		}
		// A loan renewed while overdue starts clean; what it already owes
		// is carried.
		if rec.OverdueSince != nil {
			settled := fines.Settle(stateOf(rec))
			fields["overdue_since"] = settled.OverdueSince
			fields["overdue_days"] = settled.OverdueDays
			fields["fine_carried"] = settled.FineCarried
		}
		out, err = s.records.Transition(ctx, id, rec.Status, fields)
		if err != nil {
			return err
		}
		s.renewalDecided(ctx, out)
		return nil
	})
	return out, err
}

// RejectRenewal turns the request down and puts the loan back in the state
// it was in when the renewal was requested.
func (s *Service) RejectRenewal(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.RejectRenewal"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventRejectRenewal, id, func(ctx context.Context) error {
		if err := requireLibrarian(op, sess); err != nil {
			return err
		}
		rec, _, err := s.load(ctx, op, id, lifecycle.EventRejectRenewal)
		if err != nil {
			return err
		}
		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{
			"status":           lifecycle.RestoreAfterRejectedRenewal(rec.PriorStatus),
			"renewal_decision": models.RenewalRejected,
		})
		if err != nil {
			return err
		}
		s.renewalDecided(ctx, out)
		return nil
	})
	return out, err
}
