package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/pkg/apperr"
	"library-lending/pkg/database"
	"library-lending/pkg/docstore"
	"library-lending/pkg/models"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	return NewLedger(docstore.New(db))
}

func TestAddTitle(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)

	b, err := l.AddTitle(ctx, NewTitle{Title: "  Dune ", Author: "Frank Herbert", Category: "scifi", Copies: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, 2, b.TotalCopies)
	assert.Equal(t, 2, b.AvailableCopies)
	assert.Equal(t, models.Available, b.Status)

	empty, err := l.AddTitle(ctx, NewTitle{Title: "Gone", Copies: 0})
	require.NoError(t, err)
	assert.Equal(t, models.Unavailable, empty.Status)

	_, err = l.AddTitle(ctx, NewTitle{Title: " "})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
	_, err = l.AddTitle(ctx, NewTitle{Title: "x", Copies: -1})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestList_ByCategory(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	_, err := l.AddTitle(ctx, NewTitle{Title: "Dune", Category: "scifi", Copies: 1})
	require.NoError(t, err)
	_, err = l.AddTitle(ctx, NewTitle{Title: "Emma", Category: "classics", Copies: 1})
	require.NoError(t, err)

	all, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scifi, err := l.List(ctx, "scifi")
	require.NoError(t, err)
	require.Len(t, scifi, 1)
	assert.Equal(t, "Dune", scifi[0].Title)
}

func TestReserveRelease(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	b, err := l.AddTitle(ctx, NewTitle{ID: "b1", Title: "Dune", Copies: 1})
	require.NoError(t, err)

	b, err = l.Reserve(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 1, b.BorrowCount)
	assert.Equal(t, models.Unavailable, b.Status)

	_, err = l.Reserve(ctx, b.ID)
	assert.True(t, errors.Is(err, apperr.ErrNoCopiesAvailable))

	b, applied, err := l.Release(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, b.AvailableCopies)
	assert.Equal(t, models.Available, b.Status)
	assert.Equal(t, 1, b.BorrowCount)

	b, applied, err = l.Release(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestReserve_Missing(t *testing.T) {
	_, err := setupTestLedger(t).Reserve(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUnreserve(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	_, err := l.AddTitle(ctx, NewTitle{ID: "b1", Title: "Dune", Copies: 1})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "b1")
	require.NoError(t, err)

	b, applied, err := l.Unreserve(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, b.AvailableCopies)
	assert.Equal(t, 0, b.BorrowCount)
}

func TestReserve_ConcurrentNeverOvercommits(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	_, err := l.AddTitle(ctx, NewTitle{ID: "b1", Title: "Dune", Copies: 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, "b1"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	b, err := l.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 0, b.AvailableCopies)
}

func TestAdjustCopies(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	_, err := l.AddTitle(ctx, NewTitle{ID: "b1", Title: "Dune", Copies: 2})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "b1")
	require.NoError(t, err)

	b, err := l.AdjustCopies(ctx, "b1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, b.TotalCopies)
	assert.Equal(t, 4, b.AvailableCopies)

	_, err = l.AdjustCopies(ctx, "b1", -5)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	b, err = l.AdjustCopies(ctx, "b1", -4)
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalCopies)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, models.Unavailable, b.Status)
}
