// Package inventory keeps per-title copy counts. Every count change is a
// conditional update, so available copies stay within 0..total even when
// callers race.
package inventory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"library-lending/pkg/apperr"
	"library-lending/pkg/docstore"
	"library-lending/pkg/models"
)

type Ledger struct {
	books *docstore.Collection[models.Book]
}

func NewLedger(store *docstore.Store) *Ledger {
	return &Ledger{books: docstore.C[models.Book](store)}
}

type NewTitle struct {
	ID       string
	Title    string
	Author   string
	Category string
	CoverURL string
	Copies   int
}

func (l *Ledger) AddTitle(ctx context.Context, in NewTitle) (models.Book, error) {
	const op = "inventory.AddTitle"
	if strings.TrimSpace(in.Title) == "" {
		return models.Book{}, apperr.Invalid(op, "title is required")
	}
	if in.Copies < 0 {
		return models.Book{}, apperr.Invalid(op, "copies must not be negative")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	b := models.Book{
		ID:              in.ID,
		Title:           strings.TrimSpace(in.Title),
		Author:          in.Author,
		Category:        in.Category,
		CoverURL:        in.CoverURL,
		TotalCopies:     in.Copies,
		AvailableCopies: in.Copies,
		Status:          models.AvailabilityFor(in.Copies),
	}
	if err := l.books.Create(ctx, b); err != nil {
		return models.Book{}, err
	}
	return l.books.Get(ctx, b.ID)
}

func (l *Ledger) Get(ctx context.Context, id string) (models.Book, error) {
	return l.books.Get(ctx, id)
}

// List returns the catalog, optionally narrowed to one category.
func (l *Ledger) List(ctx context.Context, category string) ([]models.Book, error) {
	if category == "" {
		return l.books.Query(ctx)
	}
	return l.books.Query(ctx, docstore.Eq("category", category))
}

// statusAfter recomputes availability from the row's pre-update count plus
// delta, inside the same UPDATE.
func statusAfter(delta int) any {
	return gorm.Expr("CASE WHEN available_copies + ? > 0 THEN ? ELSE ? END",
		delta, string(models.Available), string(models.Unavailable))
}

// Reserve takes one copy for an approved loan and bumps the borrow
// counter. It fails with NoCopiesAvailable when nothing is left.
func (l *Ledger) Reserve(ctx context.Context, id string) (models.Book, error) {
	const op = "inventory.Reserve"
	b, applied, err := l.books.UpdateWhere(ctx, id,
		[]docstore.Filter{docstore.Gt("available_copies", 0)},
		docstore.Fields{
			"available_copies": gorm.Expr("available_copies - 1"),
			"borrow_count":     gorm.Expr("borrow_count + 1"),
			"status":           statusAfter(-1),
		})
	if err != nil {
		return b, err
	}
	if !applied {
		if _, err := l.books.Get(ctx, id); err != nil {
			return models.Book{}, err
		}
		return models.Book{}, apperr.Conflict(op, apperr.ReasonNoCopiesAvailable)
	}
	return b, nil
}

// Release puts one copy back. It reports false, without error, when the
// title already has every copy on the shelf.
func (l *Ledger) Release(ctx context.Context, id string) (models.Book, bool, error) {
	return l.release(ctx, id, docstore.Fields{
		"available_copies": gorm.Expr("available_copies + 1"),
		"status":           statusAfter(1),
	})
}

// Unreserve undoes a Reserve whose loan could not be recorded.
func (l *Ledger) Unreserve(ctx context.Context, id string) (models.Book, bool, error) {
	return l.release(ctx, id, docstore.Fields{
		"available_copies": gorm.Expr("available_copies + 1"),
		"borrow_count":     gorm.Expr("CASE WHEN borrow_count > 0 THEN borrow_count - 1 ELSE 0 END"),
		"status":           statusAfter(1),
	})
}

// Unrelease undoes a Release whose return could not be recorded. It
// reports false when the copy was already taken again by someone else.
func (l *Ledger) Unrelease(ctx context.Context, id string) (models.Book, bool, error) {
	b, applied, err := l.books.UpdateWhere(ctx, id,
		[]docstore.Filter{docstore.Gt("available_copies", 0)},
		docstore.Fields{
			"available_copies": gorm.Expr("available_copies - 1"),
			"status":           statusAfter(-1),
		})
	if err != nil || applied {
		return b, applied, err
	}
	b, err = l.books.Get(ctx, id)
	return b, false, err
}

func (l *Ledger) release(ctx context.Context, id string, fields docstore.Fields) (models.Book, bool, error) {
	b, applied, err := l.books.UpdateWhere(ctx, id,
		[]docstore.Filter{docstore.Lt("available_copies", gorm.Expr("total_copies"))}, fields)
	if err != nil {
		return b, false, err
	}
	if !applied {
		b, err = l.books.Get(ctx, id)
		return b, false, err
	}
	return b, true, nil
}

// AdjustCopies adds delta copies to a title (negative to withdraw). Copies
// that are on loan cannot be withdrawn.
func (l *Ledger) AdjustCopies(ctx context.Context, id string, delta int) (models.Book, error) {
	const op = "inventory.AdjustCopies"
	if delta == 0 {
		return l.books.Get(ctx, id)
	}
	var conds []docstore.Filter
	if delta < 0 {
		conds = append(conds, docstore.Gt("available_copies", -delta-1))
	}
	b, applied, err := l.books.UpdateWhere(ctx, id, conds, docstore.Fields{
		"total_copies":     gorm.Expr("total_copies + ?", delta),
		"available_copies": gorm.Expr("available_copies + ?", delta),
		"status":           statusAfter(delta),
	})
	if err != nil {
		return b, err
	}
	if !applied {
		if _, err := l.books.Get(ctx, id); err != nil {
			return models.Book{}, err
		}
		return models.Book{}, apperr.Conflict(op, apperr.ReasonNoCopiesAvailable)
	}
	return b, nil
}
