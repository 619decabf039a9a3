// Package docstore is a small document store over gorm. Each collection
// supports create, get, filtered query, field update, conditional update and
// change subscriptions. Subscribers receive ordered snapshots of what was
// added to, modified within, or removed from their filtered view.
//
// Change delivery is in-process: writes made through another Store (or
// another process) are not observed.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library-lending/pkg/apperr"
)

// Document is anything a Collection can hold. Field exposes column values
// for filtering; it returns false for columns that cannot be filtered on.
type Document interface {
	DocID() string
	Field(name string) (any, bool)
}

// Fields is a partial update keyed by column name. Values may be gorm
// expressions such as gorm.Expr("available_copies - 1").
type Fields map[string]any

type Store struct {
	db *gorm.DB

	mu          sync.Mutex
	collections map[string]any
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, collections: make(map[string]any)}
}

func (s *Store) DB() *gorm.DB { return s.db }

type Collection[T Document] struct {
	db   *gorm.DB
	name string

	// mu orders write, re-read and publish so subscribers see changes in
	// the order they were committed.
	mu  sync.Mutex
	hub *hub[T]
}

// C returns the collection for T, creating it on first use. Every caller
// asking for the same T gets the same instance, so they share one hub.
func C[T Document](s *Store) *Collection[T] {
	var zero T
	key := fmt.Sprintf("%T", zero)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[key]; ok {
		return c.(*Collection[T])
	}
	name := key
	if stmt := (&gorm.Statement{DB: s.db}); stmt.Parse(&zero) == nil {
		name = stmt.Schema.Table
	}
	c := &Collection[T]{db: s.db, name: name, hub: newHub[T]()}
	s.collections[key] = c
	return c
}

func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) checkFilters(op string, filters []Filter) error {
	var zero T
	for _, f := range filters {
		if _, ok := zero.Field(f.Field); !ok {
			return apperr.Invalid(op, "%s cannot be filtered on %q", c.name, f.Field)
		}
		if f.Op < OpEq || f.Op > OpLt {
			return apperr.Invalid(op, "bad filter operator on %q", f.Field)
		}
	}
	return nil
}

func (c *Collection[T]) scoped(ctx context.Context, filters []Filter) *gorm.DB {
	tx := c.db.WithContext(ctx).Model(new(T))
	for _, f := range filters {
		q, arg := f.clause()
		tx = tx.Where(q, arg)
	}
	return tx
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "%v", err)
	}
	return apperr.Transient(op, err)
}

// CommittedError is returned when a write was applied but a later step of
// the same call failed. Callers must not undo side effects of their own on
// the assumption that nothing was written.
type CommittedError struct {
	Err error
}

func (e *CommittedError) Error() string { return "write applied: " + e.Err.Error() }

func (e *CommittedError) Unwrap() error { return e.Err }

// Committed reports whether err was raised after its write was applied.
func Committed(err error) bool {
	var ce *CommittedError
	return errors.As(err, &ce)
}

func (c *Collection[T]) Create(ctx context.Context, doc T) error {
	op := c.name + ".create"
	if doc.DocID() == "" {
		return apperr.Invalid(op, "document id is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return storeErr(op, err)
	}
	c.hub.publish(doc)
	return nil
}

// CreateIfAbsent inserts doc unless a document with the same id exists.
// It reports whether the insert happened.
func (c *Collection[T]) CreateIfAbsent(ctx context.Context, doc T) (bool, error) {
	op := c.name + ".create"
	if doc.DocID() == "" {
		return false, apperr.Invalid(op, "document id is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&doc)
	if res.Error != nil {
		return false, storeErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	c.hub.publish(doc)
	return true, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var doc T
	err := c.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return doc, apperr.NotFound(c.name+".get", "%s %s", c.name, id)
	}
	return doc, storeErr(c.name+".get", err)
}

// Query returns every document matching all filters, oldest first.
func (c *Collection[T]) Query(ctx context.Context, filters ...Filter) ([]T, error) {
	op := c.name + ".query"
	if err := c.checkFilters(op, filters); err != nil {
		return nil, err
	}
	var docs []T
	if err := c.scoped(ctx, filters).Order("created_at, id").Find(&docs).Error; err != nil {
		return nil, storeErr(op, err)
	}
	return docs, nil
}

// Count returns how many documents match all filters.
func (c *Collection[T]) Count(ctx context.Context, filters ...Filter) (int64, error) {
	op := c.name + ".count"
	if err := c.checkFilters(op, filters); err != nil {
		return 0, err
	}
	var n int64
	if err := c.scoped(ctx, filters).Count(&n).Error; err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// Sum adds up column over the matching documents.
func (c *Collection[T]) Sum(ctx context.Context, column string, filters ...Filter) (int64, error) {
	op := c.name + ".sum"
	if err := c.checkFilters(op, filters); err != nil {
		return 0, err
	}
	var zero T
	if _, ok := zero.Field(column); !ok {
		return 0, apperr.Invalid(op, "%s has no summable column %q", c.name, column)
	}
	var total int64
	err := c.scoped(ctx, filters).Select(fmt.Sprintf("COALESCE(SUM(%s), 0)", column)).Scan(&total).Error
	if err != nil {
		return 0, storeErr(op, err)
	}
	return total, nil
}

// Update applies fields to the document with id and returns it as stored.
func (c *Collection[T]) Update(ctx context.Context, id string, fields Fields) (T, error) {
	doc, applied, err := c.UpdateWhere(ctx, id, nil, fields)
	if err != nil {
		return doc, err
	}
	if !applied {
		return doc, apperr.NotFound(c.name+".update", "%s %s", c.name, id)
	}
	return doc, nil
}

// UpdateWhere applies fields only if the document with id still matches
// conds at write time. It reports whether the write happened; a document
// that exists but no longer matches is not an error.
func (c *Collection[T]) UpdateWhere(ctx context.Context, id string, conds []Filter, fields Fields) (T, bool, error) {
	var zero T
	op := c.name + ".update"
	if err := c.checkFilters(op, conds); err != nil {
		return zero, false, err
	}
	if len(fields) == 0 {
		return zero, false, apperr.Invalid(op, "no fields to update")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.scoped(ctx, conds).Where("id = ?", id).Updates(map[string]any(fields))
	if res.Error != nil {
		return zero, false, storeErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return zero, false, nil
	}

	var doc T
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return zero, true, &CommittedError{Err: storeErr(op, err)}
	}
	c.hub.publish(doc)
	return doc, true, nil
}

// Subscribe streams snapshots of the documents matching filters. The first
// snapshot has Initial set and lists every current match as Added. The
// channel is closed when ctx is done.
func (c *Collection[T]) Subscribe(ctx context.Context, filters ...Filter) (<-chan Snapshot[T], error) {
	op := c.name + ".subscribe"
	if err := c.checkFilters(op, filters); err != nil {
		return nil, err
	}

	c.mu.Lock()
	var docs []T
	if err := c.scoped(ctx, filters).Order("created_at, id").Find(&docs).Error; err != nil {
		c.mu.Unlock()
		return nil, storeErr(op, err)
	}
	sub := c.hub.add(filters, docs)
	c.mu.Unlock()

	out := make(chan Snapshot[T])
	go func() {
		defer close(out)
		defer c.hub.remove(sub)
		sub.pump(ctx, out)
	}()
	return out, nil
}

// Subscribers reports how many live subscriptions the collection has.
func (c *Collection[T]) Subscribers() int {
	return c.hub.size()
}
