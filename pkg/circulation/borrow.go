package circulation

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"library-lending/pkg/apperr"
	"library-lending/pkg/docstore"
	"library-lending/pkg/fines"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

type BorrowRequest struct {
	BookID           string
	RequestedName    string
	RequestedDueDate *time.Time
}

// RequestBorrow opens a PendingApproval record for the session's patron.
func (s *Service) RequestBorrow(ctx context.Context, sess session.Session, req BorrowRequest) (models.BorrowRecord, error) {
	const op = "circulation.RequestBorrow"
	var rec models.BorrowRecord
	err := s.run(ctx, lifecycle.EventSubmitBorrow, req.BookID, func(ctx context.Context) error {
		if err := requireSession(op, sess); err != nil {
			return err
		}
		name := strings.TrimSpace(req.RequestedName)
		if name == "" {
			return apperr.Invalid(op, "requested name is required")
		}
		now := s.now()
		if req.RequestedDueDate != nil && fines.CalendarDays(now, *req.RequestedDueDate, s.policy.Loc()) < 0 {
			return apperr.Invalid(op, "requested due date %s is in the past", req.RequestedDueDate.Format(time.DateOnly))
		}

		book, err := s.ledger.Get(ctx, req.BookID)
		if err != nil {
			return err
		}
		if _, held, err := s.records.FindHeld(ctx, sess.PatronID, book.ID); err != nil {
			return err
		} else if held {
			return apperr.Conflict(op, apperr.ReasonDuplicateRequest)
		}
		if book.AvailableCopies <= 0 {
			return apperr.Conflict(op, apperr.ReasonNoCopiesAvailable)
		}

		status, _ := lifecycle.Next(lifecycle.StatusNone, lifecycle.EventSubmitBorrow)
		rec, err = s.records.Create(ctx, models.BorrowRecord{
			ID:               uuid.NewString(),
			PatronID:         sess.PatronID,
			BookID:           book.ID,
			BookTitle:        book.Title,
			BookAuthor:       book.Author,
			BookCover:        book.CoverURL,
			RequestedBy:      name,
			Status:           status,
			RequestedAt:      now,
			RequestedDueDate: req.RequestedDueDate,
			RenewalsAllowed:  s.policy.RenewalsAllowed,
		})
		return err
	})
	return rec, err
}

// ApproveBorrow takes a copy off the shelf and starts the loan. If the
// record changed underneath, the copy is put back.
func (s *Service) ApproveBorrow(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.ApproveBorrow"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventApproveBorrow, id, func(ctx context.Context) error {
		if err := requireLibrarian(op, sess); err != nil {
			return err
		}
		rec, to, err := s.load(ctx, op, id, lifecycle.EventApproveBorrow)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Reserve(ctx, rec.BookID); err != nil {
			return err
		}

		now := s.now()
		due := s.policy.LoanDue(now, rec.RequestedDueDate)
		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{
			"status":      to,
			"borrow_date": now,
			"due_date":    due,
		})
		if err != nil {
			if docstore.Committed(err) {
				return err
			}
			if _, _, uerr := s.ledger.Unreserve(ctx, rec.BookID); uerr != nil {
				log.Printf("[circulation] could not return copy of %s after failed approval of %s: %v", rec.BookID, id, uerr)
			}
			return err
		}
		return nil
	})
	return out, err
}

// RejectBorrow closes a pending request without touching inventory.
func (s *Service) RejectBorrow(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.RejectBorrow"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventRejectBorrow, id, func(ctx context.Context) error {
		if err := requireLibrarian(op, sess); err != nil {
			return err
		}
		rec, to, err := s.load(ctx, op, id, lifecycle.EventRejectBorrow)
		if err != nil {
			return err
		}
		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{"status": to})
		return err
	})
	return out, err
}

// RequestReturn asks a librarian to check the copy back in. Overdue loans
// can be returned too.
func (s *Service) RequestReturn(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.RequestReturn"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventRequestReturn, id, func(ctx context.Context) error {
		rec, err := s.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(op, sess, rec); err != nil {
			return err
		}
		to, ok := lifecycle.Next(rec.Status, lifecycle.EventRequestReturn)
		if !ok {
			return apperr.Conflict(op, apperr.ReasonInvalidTransition)
		}
		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{
			"status":              to,
			"prior_status":        rec.Status,
			"return_request_date": s.now(),
		})
		return err
	})
	return out, err
}

// ApproveReturn ends the loan and puts the copy back on the shelf. The copy
// is released first; if the record then cannot be closed, it is taken back.
func (s *Service) ApproveReturn(ctx context.Context, sess session.Session, id string) (models.BorrowRecord, error) {
	const op = "circulation.ApproveReturn"
	var out models.BorrowRecord
	err := s.run(ctx, lifecycle.EventApproveReturn, id, func(ctx context.Context) error {
		if err := requireLibrarian(op, sess); err != nil {
			return err
		}
		rec, to, err := s.load(ctx, op, id, lifecycle.EventApproveReturn)
		if err != nil {
			return err
		}
		_, released, err := s.ledger.Release(ctx, rec.BookID)
		if err != nil {
			return err
		}
		if !released {
			log.Printf("[circulation] %s already has every copy on the shelf, return %s not counted", rec.BookID, id)
		}

		out, err = s.records.Transition(ctx, id, rec.Status, docstore.Fields{
			"status":             to,
			"actual_return_date": s.now(),
		})
		if err != nil {
			if released && !docstore.Committed(err) {
				if _, _, uerr := s.ledger.Unrelease(ctx, rec.BookID); uerr != nil {
					log.Printf("[circulation] could not take back copy of %s after failed return %s: %v", rec.BookID, id, uerr)
				}
			}
			return err
		}
		return nil
	})
	return out, err
}
