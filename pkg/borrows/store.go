package borrows

import (
	"context"

	"library-lending/pkg/apperr"
	"library-lending/pkg/docstore"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
)

// Store owns the canonical lifecycle state of every borrow record.
type Store struct {
	records *docstore.Collection[models.BorrowRecord]
}

func NewStore(store *docstore.Store) *Store {
	return &Store{records: docstore.C[models.BorrowRecord](store)}
}

// Records exposes the underlying collection for subscriptions.
func (s *Store) Records() *docstore.Collection[models.BorrowRecord] {
	return s.records
}

func (s *Store) Create(ctx context.Context, r models.BorrowRecord) (models.BorrowRecord, error) {
	if err := s.records.Create(ctx, r); err != nil {
		return models.BorrowRecord{}, err
	}
	return s.records.Get(ctx, r.ID)
}

func (s *Store) Get(ctx context.Context, id string) (models.BorrowRecord, error) {
	return s.records.Get(ctx, id)
}

// FindHeld returns the patron's record for bookID that is currently held,
// if any.
func (s *Store) FindHeld(ctx context.Context, patronID, bookID string) (models.BorrowRecord, bool, error) {
	recs, err := s.records.Query(ctx,
		docstore.Eq("patron_id", patronID),
		docstore.Eq("book_id", bookID),
		docstore.In("status", lifecycle.HeldStatuses()...),
	)
	if err != nil || len(recs) == 0 {
		return models.BorrowRecord{}, false, err
	}
	return recs[0], true, nil
}

// ListByPatron returns the patron's records, optionally narrowed to statuses.
func (s *Store) ListByPatron(ctx context.Context, patronID string, statuses ...lifecycle.Status) ([]models.BorrowRecord, error) {
	filters := []docstore.Filter{docstore.Eq("patron_id", patronID)}
	if len(statuses) > 0 {
		filters = append(filters, docstore.In("status", statuses...))
	}
	return s.records.Query(ctx, filters...)
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...lifecycle.Status) ([]models.BorrowRecord, error) {
	if len(statuses) == 0 {
		return s.records.Query(ctx)
	}
	return s.records.Query(ctx, docstore.In("status", statuses...))
}

// Transition writes fields only while the record is still in from. A
// record that has moved on yields ErrStaleWrite.
func (s *Store) Transition(ctx context.Context, id string, from lifecycle.Status, fields docstore.Fields) (models.BorrowRecord, error) {
	rec, applied, err := s.records.UpdateWhere(ctx, id, []docstore.Filter{docstore.Eq("status", from)}, fields)
	if err != nil {
		return rec, err
	}
	if !applied {
		if _, err := s.records.Get(ctx, id); err != nil {
			return models.BorrowRecord{}, err
		}
		return models.BorrowRecord{}, apperr.Conflict("borrows.Transition", apperr.ReasonStaleWrite)
	}
	return rec, nil
}

// Stats summarises the records in the store.
type Stats struct {
	ByStatus         map[lifecycle.Status]int64
	OutstandingFines int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[lifecycle.Status]int64)}
	for _, status := range lifecycle.AllStatuses() {
		n, err := s.records.Count(ctx, docstore.Eq("status", status))
		if err != nil {
			return st, err
		}
		st.ByStatus[status] = n
	}
	fines, err := s.records.Sum(ctx, "fine_amount", docstore.Eq("fine_paid", false))
	if err != nil {
		return st, err
	}
	st.OutstandingFines = fines
	return st, nil
}
