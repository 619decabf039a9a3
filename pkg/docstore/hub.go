package docstore

import (
	"context"
	"sync"
)

// Snapshot is one batch of changes to a subscriber's filtered view.
type Snapshot[T Document] struct {
	Added    []T
	Modified []T
	Removed  []T
	// Initial marks the first snapshot, which lists the whole view as Added.
	Initial bool
}

func (s Snapshot[T]) Empty() bool {
	return len(s.Added) == 0 && len(s.Modified) == 0 && len(s.Removed) == 0 && !s.Initial
}

type hub[T Document] struct {
	mu   sync.Mutex
	subs map[*subscription[T]]struct{}
}

func newHub[T Document]() *hub[T] {
	return &hub[T]{subs: make(map[*subscription[T]]struct{})}
}

func (h *hub[T]) add(filters []Filter, initial []T) *subscription[T] {
	sub := &subscription[T]{
		filters: filters,
		members: make(map[string]struct{}, len(initial)),
		signal:  make(chan struct{}, 1),
	}
	for _, d := range initial {
		sub.members[d.DocID()] = struct{}{}
	}
	sub.enqueue(Snapshot[T]{Added: initial, Initial: true})

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub[T]) remove(sub *subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub[T]) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publish classifies doc against every subscription's view and queues the
// resulting change. It never blocks on a slow subscriber.
func (h *hub[T]) publish(doc T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if snap, ok := sub.classify(doc); ok {
			sub.enqueue(snap)
		}
	}
}

type subscription[T Document] struct {
	filters []Filter
	// members is only touched under hub.mu.
	members map[string]struct{}

	mu      sync.Mutex
	pending []Snapshot[T]
	signal  chan struct{}
}

func (s *subscription[T]) matches(doc T) bool {
	for _, f := range s.filters {
		v, ok := doc.Field(f.Field)
		if !ok || !f.matches(v) {
			return false
		}
	}
	return true
}

func (s *subscription[T]) classify(doc T) (Snapshot[T], bool) {
	id := doc.DocID()
	_, was := s.members[id]
	now := s.matches(doc)
	switch {
	case now && !was:
		s.members[id] = struct{}{}
		return Snapshot[T]{Added: []T{doc}}, true
	case now && was:
		return Snapshot[T]{Modified: []T{doc}}, true
	case !now && was:
		delete(s.members, id)
		return Snapshot[T]{Removed: []T{doc}}, true
	}
	return Snapshot[T]{}, false
}

func (s *subscription[T]) enqueue(snap Snapshot[T]) {
	s.mu.Lock()
	s.pending = append(s.pending, snap)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) drain() []Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// pump forwards queued snapshots to out, in order, until ctx is done.
func (s *subscription[T]) pump(ctx context.Context, out chan<- Snapshot[T]) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
		for _, snap := range s.drain() {
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}
}
