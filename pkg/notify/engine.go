package notify

import (
	"log"
	"sync"

	"library-lending/pkg/docstore"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// Phase is where a feed is in its life.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	// PhaseWarmingUp waits for the first snapshot, which only seeds the
	// baseline.
	PhaseWarmingUp
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmingUp:
		return "warming_up"
	case PhaseSteady:
		return "steady"
	}
	return "uninitialized"
}

// Baseline remembers the last status seen for each record.
type Baseline interface {
	Get(id string) (lifecycle.Status, bool)
	Set(id string, s lifecycle.Status)
	Delete(id string)
	Reset()
	Len() int
}

type MemoryBaseline struct {
	mu sync.Mutex
	m  map[string]lifecycle.Status
}

func NewMemoryBaseline() *MemoryBaseline {
	return &MemoryBaseline{m: make(map[string]lifecycle.Status)}
}

func (b *MemoryBaseline) Get(id string) (lifecycle.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.m[id]
	return s, ok
}

func (b *MemoryBaseline) Set(id string, s lifecycle.Status) {
	b.mu.Lock()
	b.m[id] = s
	b.mu.Unlock()
}

func (b *MemoryBaseline) Delete(id string) {
	b.mu.Lock()
	delete(b.m, id)
	b.mu.Unlock()
}

func (b *MemoryBaseline) Reset() {
	b.mu.Lock()
	b.m = make(map[string]lifecycle.Status)
	b.mu.Unlock()
}

func (b *MemoryBaseline) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// Engine turns a feed's snapshots into notifications. Each status change
// of a known record is looked up once and then written to the baseline,
// so delivering the same snapshot again produces nothing.
type Engine struct {
	role session.Role
	// notifyOnAdded makes records that enter the feed count as coming from
	// StatusNone. Librarian request queues want this; the patron feed
	// only reports changes to records it already knew.
	notifyOnAdded bool
	baseline      Baseline

	mu    sync.Mutex
	phase Phase
}

type EngineOption func(*Engine)

func WithBaseline(b Baseline) EngineOption { return func(e *Engine) { e.baseline = b } }

func NotifyOnAdded(on bool) EngineOption { return func(e *Engine) { e.notifyOnAdded = on } }

func NewEngine(role session.Role, opts ...EngineOption) *Engine {
	e := &Engine{role: role}
	for _, o := range opts {
		o(e)
	}
	if e.baseline == nil {
		e.baseline = NewMemoryBaseline()
	}
	return e
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Begin (re)starts warm-up. It is called whenever the underlying
// subscription is created.
func (e *Engine) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline.Reset()
	e.phase = PhaseWarmingUp
}

// Apply processes one snapshot and returns the messages it triggers.
func (e *Engine) Apply(snap docstore.Snapshot[models.BorrowRecord]) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseUninitialized {
		e.baseline.Reset()
		e.phase = PhaseWarmingUp
	}
	if e.phase == PhaseWarmingUp {
		e.seed(snap)
		e.phase = PhaseSteady
		return nil
	}

	var out []Message
	for _, group := range [][]models.BorrowRecord{snap.Added, snap.Modified} {
		for _, rec := range group {
			if m, ok := e.observe(rec); ok {
				out = append(out, m)
			}
		}
	}
	for _, rec := range snap.Removed {
		e.baseline.Delete(rec.ID)
	}
	return out
}

func (e *Engine) seed(snap docstore.Snapshot[models.BorrowRecord]) {
	for _, group := range [][]models.BorrowRecord{snap.Added, snap.Modified} {
		for _, rec := range group {
			if !valid(rec) {
				continue
			}
			e.baseline.Set(rec.ID, rec.Status)
		}
	}
	for _, rec := range snap.Removed {
		e.baseline.Delete(rec.ID)
	}
}

func valid(rec models.BorrowRecord) bool {
	if rec.ID == "" || !rec.Status.Valid() {
		log.Printf("[notify] skipping malformed record id=%q status=%s", rec.ID, rec.Status)
		return false
	}
	return true
}

func (e *Engine) observe(rec models.BorrowRecord) (Message, bool) {
	if !valid(rec) {
		return Message{}, false
	}
	old, known := e.baseline.Get(rec.ID)
	if known && old == rec.Status {
		return Message{}, false
	}
	defer e.baseline.Set(rec.ID, rec.Status)

	if !known && !e.notifyOnAdded {
		return Message{}, false
	}
	from := lifecycle.StatusNone
	if known {
		from = old
	}
	rule, ok := Lookup(from, rec.Status, e.role)
	if !ok {
		return Message{}, false
	}
	return rule(rec), true
}
