// Package queue holds work that failed and should be tried again later.
package queue

import (
	"sync"
	"time"
)

type Item[T any] struct {
	ID         string
	Value      T
	RetryAt    time.Time
	RetryCount int
	MaxRetries int
}

// Exhausted reports whether the item has used up its retries.
func (it *Item[T]) Exhausted() bool {
	return it.MaxRetries > 0 && it.RetryCount >= it.MaxRetries
}

// Queue keeps at most one pending item per ID. Items come out in RetryAt
// order once they are due.
type Queue[T any] struct {
	items []*Item[T]
	mu    sync.Mutex
}

func New[T any]() *Queue[T] {
	return &Queue[T]{items: make([]*Item[T], 0)}
}

// Enqueue adds it, replacing any pending item with the same ID.
func (q *Queue[T]) Enqueue(it *Item[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.items {
		if cur.ID == it.ID {
			q.items[i] = it
			return
		}
	}
	q.items = append(q.items, it)
}

func (q *Queue[T]) due(now time.Time) int {
	best := -1
	for i, it := range q.items {
		if it.RetryAt.After(now) {
			continue
		}
		if best < 0 || it.RetryAt.Before(q.items[best].RetryAt) {
			best = i
		}
	}
	return best
}

// Dequeue removes and returns the earliest item due at now, or nil.
func (q *Queue[T]) Dequeue(now time.Time) *Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.due(now)
	if i < 0 {
		return nil
	}
	it := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return it
}

func (q *Queue[T]) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
