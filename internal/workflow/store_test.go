/**
 * Workflow Record Tests
 *
 * Validates lifecycle transitions, the page-done barrier counting, and
 * the synchronous dispatch wait against an in-process Redis.
 */

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, time.Hour)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))

	rec, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", rec.ID)
	assert.Equal(t, "guid-1", rec.GUID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.Terminal())
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestGetUnknownIDReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLifecycleTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))
	require.NoError(t, store.MarkStarted(ctx, "wf-1", 3))

	rec, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, rec.Status)
	assert.Equal(t, 3, rec.PagesTotal)

	require.NoError(t, store.MarkSucceeded(ctx, "wf-1", map[string]interface{}{
		"guid":       "guid-1",
		"confidence": 0.9,
	}))

	rec, err = store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.True(t, rec.Terminal())
	assert.Equal(t, "guid-1", rec.Result["guid"])
}

func TestGetRejectsCorruptPagesTotal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))
	require.NoError(t, rdb.HSet(ctx, "ocr_wf:wf-1", "pages_total", "three").Err())

	_, err := store.Get(ctx, "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pages_total")
}

func TestMarkFailedStoresErrorInfo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))
	require.NoError(t, store.MarkFailed(ctx, "wf-1", map[string]interface{}{
		"error_code": "ZERO_PAGES",
		"message":    "document decoded to zero pages",
	}))

	rec, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, rec.Status)
	assert.True(t, rec.Terminal())
	assert.Equal(t, "ZERO_PAGES", rec.Error["error_code"])
}

func TestMarkPageDoneCountsDistinctPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))

	count, err := store.MarkPageDone(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.MarkPageDone(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Redelivery of the same page must not inflate the barrier.
	count, err = store.MarkPageDone(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.MarkPageDone(ctx, "wf-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestWaitForDispatchReturnsOnTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))

	go func() {
		time.Sleep(150 * time.Millisecond)
		store.MarkStarted(context.Background(), "wf-1", 2)
	}()

	rec, err := store.WaitForDispatch(ctx, "wf-1", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusStarted, rec.Status)
}

func TestWaitForDispatchTimesOutWhilePending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))

	start := time.Now()
	rec, err := store.WaitForDispatch(ctx, "wf-1", 300*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForDispatchSurfacesFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "wf-1", "guid-1"))
	require.NoError(t, store.MarkFailed(ctx, "wf-1", map[string]interface{}{
		"error_code": "UNDECODABLE_DOCUMENT",
	}))

	rec, err := store.WaitForDispatch(ctx, "wf-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, rec.Status)
}
