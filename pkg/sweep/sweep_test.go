package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"library-lending/pkg/apperr"
	"library-lending/pkg/borrows"
	"library-lending/pkg/circuitbreaker"
	"library-lending/pkg/circulation"
	"library-lending/pkg/clock"
	"library-lending/pkg/database"
	"library-lending/pkg/docstore"
	"library-lending/pkg/inventory"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/metrics"
	"library-lending/pkg/models"
	"library-lending/pkg/notify"
	"library-lending/pkg/policy"
	"library-lending/pkg/session"
)

var (
	patron    = session.Session{PatronID: "p1", Name: "Ann", Role: session.RolePatron}
	librarian = session.Session{PatronID: "lib1", Name: "Lia", Role: session.RoleLibrarian}
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *recordingSink) Deliver(_ context.Context, m notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Kind
	}
	return out
}

type fixture struct {
	db      *gorm.DB
	svc     *circulation.Service
	clock   *clock.Fixed
	sink    *recordingSink
	metrics *metrics.Metrics
}

func setupTestSweep(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	store := docstore.New(db)
	f := &fixture{
		db:      db,
		clock:   clock.NewFixed(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		sink:    &recordingSink{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	ledger := inventory.NewLedger(store)
	_, err = ledger.AddTitle(context.Background(), inventory.NewTitle{ID: "b1", Title: "Dune", Copies: 2})
	require.NoError(t, err)
	f.svc = circulation.New(ledger, borrows.NewStore(store), policy.Default(),
		circulation.WithClock(f.clock), circulation.WithMetrics(f.metrics))
	return f
}

// loan borrows b1 for sess; it falls due on 2024-01-15.
func (f *fixture) loan(t *testing.T, sess session.Session) models.BorrowRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := f.svc.RequestBorrow(ctx, sess, circulation.BorrowRequest{BookID: "b1", RequestedName: sess.Name})
	require.NoError(t, err)
	rec, err = f.svc.ApproveBorrow(ctx, librarian, rec.ID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) at(day, hour int) {
	f.clock.Set(time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC))
}

func TestRunOnce_DueSoonThenOverdue(t *testing.T) {
	ctx := context.Background()
	f := setupTestSweep(t)
	rec := f.loan(t, patron)
	other := f.loan(t, session.Session{PatronID: "p2", Name: "Bob", Role: session.RolePatron})
	sw := New(f.svc, f.sink, WithMetrics(f.metrics))

	f.at(13, 9)
	rep, err := sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 1, DueSoon: 1}, rep)

	// Runs do not remember each other; the next one reminds again.
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DueSoon)

	f.at(14, 9)
	_, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)

	f.at(17, 9)
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overdue)

	got, err := f.svc.Records().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusOverdue, got.Status)
	assert.Equal(t, 2, got.OverdueDays)
	assert.Equal(t, int64(10000), got.FineAmount)
	assert.False(t, got.FinePaid)

	// Another patron's loan is outside this session's sweep.
	untouched, err := f.svc.Records().Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, untouched.Status)

	assert.Equal(t, []string{models.KindDueSoon, models.KindDueSoon, models.KindDueSoon, models.KindOverdue}, f.sink.kinds())
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.SweepRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OverdueMarked))
}

func TestRunOnce_RepeatReminders(t *testing.T) {
	ctx := context.Background()
	f := setupTestSweep(t)
	f.loan(t, patron)
	sw := New(f.svc, f.sink)

	f.at(16, 12)
	rep, err := sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overdue)

	f.at(17, 12)
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Reminders)
	assert.Equal(t, 1, rep.Updated)

	f.at(18, 12)
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reminders)

	f.at(18, 18)
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reminders)
	assert.Equal(t, 0, rep.Updated)

	assert.Equal(t, []string{models.KindOverdue, models.KindOverdueReminder, models.KindOverdueReminder}, f.sink.kinds())
	assert.Equal(t, f.sink.msgs[1].ID(), f.sink.msgs[2].ID())
}

func TestRunOnce_RequiresSession(t *testing.T) {
	f := setupTestSweep(t)
	_, err := New(f.svc, f.sink).RunOnce(context.Background(), session.Session{})
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
}

func TestRunOnce_BreakerOpensOnStoreFailure(t *testing.T) {
	f := setupTestSweep(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	sw := New(f.svc, f.sink, WithMetrics(f.metrics),
		WithBreaker(circuitbreaker.NewCircuitBreaker(0, time.Hour)))

	_, err = sw.RunOnce(context.Background(), patron)
	assert.True(t, apperr.IsRetryable(err))

	_, err = sw.RunOnce(context.Background(), patron)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweepRuns.WithLabelValues("breaker_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweepRuns.WithLabelValues("error")))
}

func TestRunOnce_RepeatedRunsLandOnceInInbox(t *testing.T) {
	ctx := context.Background()
	f := setupTestSweep(t)
	f.loan(t, patron)
	inbox := notify.NewInbox(docstore.New(f.db))
	sw := New(f.svc, notify.Fanout{Sinks: []notify.Sink{f.sink, inbox}})

	f.at(17, 9)
	for i := 0; i < 3; i++ {
		_, err := sw.RunOnce(ctx, patron)
		require.NoError(t, err)
	}

	assert.Len(t, f.sink.kinds(), 1)
	f.at(18, 9)
	for i := 0; i < 2; i++ {
		_, err := sw.RunOnce(ctx, patron)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{models.KindOverdue, models.KindOverdueReminder, models.KindOverdueReminder}, f.sink.kinds())

	list, err := inbox.List(ctx, patron.PatronID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.KindOverdueReminder, list[0].Kind)
	assert.Equal(t, models.KindOverdue, list[1].Kind)
}

func TestRunOnce_OverdueAgainAfterRenewal(t *testing.T) {
	ctx := context.Background()
	f := setupTestSweep(t)
	rec := f.loan(t, patron)
	sw := New(f.svc, f.sink)

	f.at(17, 9)
	rep, err := sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overdue)

	_, err = f.svc.RequestRenewal(ctx, patron, rec.ID)
	require.NoError(t, err)
	renewed, err := f.svc.ApproveRenewal(ctx, librarian, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, renewed.Status)
	assert.Equal(t, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC).Day(), renewed.DueDate.Day())
	assert.Nil(t, renewed.OverdueSince)
	assert.Zero(t, renewed.OverdueDays)
	assert.Equal(t, int64(10000), renewed.FineCarried)
	assert.Equal(t, int64(10000), renewed.FineAmount)

	f.at(24, 9)
	rep, err = sw.RunOnce(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overdue)

	got, err := f.svc.Records().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusOverdue, got.Status)
	assert.Equal(t, 2, got.OverdueDays)
	assert.Equal(t, int64(20000), got.FineAmount)
	assert.False(t, got.FinePaid)

	require.Equal(t, []string{models.KindOverdue, models.KindOverdue}, f.sink.kinds())
	assert.NotEqual(t, f.sink.msgs[0].ID(), f.sink.msgs[1].ID())
}
