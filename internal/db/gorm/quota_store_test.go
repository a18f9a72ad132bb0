package gorm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parslaw/dadgar/pkg/models"
)

func testWindow(userID string, quota int64) *models.QuotaWindow {
	now := time.Now()
	return &models.QuotaWindow{
		UserID:     userID,
		PlanID:     "free",
		TokenQuota: quota,
		StartedAt:  now,
		ExpiresAt:  now.Add(30 * 24 * time.Hour),
		Active:     true,
	}
}

func TestActiveWindowNone(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	w, err := quotas.ActiveWindow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSaveWindowDeactivatesPrevious(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()

	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 1000)))
	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 2000)))

	w, err := quotas.ActiveWindow(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, int64(2000), w.TokenQuota)

	var activeCount int64
	require.NoError(t, store.DB.Model(&QuotaWindowRow{}).
		Where("user_id = ? AND active = 1", "user-1").
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)
}

func TestReserveWithinQuota(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()
	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 1000)))

	remaining, ok, err := quotas.Reserve(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(900), remaining)
}

func TestReserveRejectsOverQuota(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()

	w := testWindow("user-1", 1000)
	w.TokensUsed = 950
	require.NoError(t, quotas.SaveWindow(ctx, w))

	remaining, ok, err := quotas.Reserve(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(50), remaining)

	// Usage unchanged by the rejected reservation
	after, err := quotas.ActiveWindow(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(950), after.TokensUsed)
}

func TestReserveNoWindow(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	_, ok, err := quotas.Reserve(context.Background(), "user-1", 10)
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReserveExpiredWindow(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()

	w := testWindow("user-1", 1000)
	w.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, quotas.SaveWindow(ctx, w))

	_, ok, err := quotas.Reserve(ctx, "user-1", 10)
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// TestReserveConcurrent verifies that N racing reservations summing past
// the quota admit only the subset that fits.
func TestReserveConcurrent(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()
	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 1000)))

	const workers = 20
	const chunk = 100 // 20 × 100 = 2000 requested against 1000 quota

	var wg sync.WaitGroup
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := quotas.Reserve(ctx, "user-1", chunk)
			require.NoError(t, err)
			admitted <- ok
		}()
	}
	wg.Wait()
	close(admitted)

	admittedCount := 0
	for ok := range admitted {
		if ok {
			admittedCount++
		}
	}
	assert.Equal(t, 10, admittedCount)

	w, err := quotas.ActiveWindow(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.TokensUsed)
	assert.LessOrEqual(t, w.TokensUsed, w.TokenQuota)
}

func TestSettleAdjustsUsage(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()
	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 1000)))

	_, ok, err := quotas.Reserve(ctx, "user-1", 200)
	require.NoError(t, err)
	require.True(t, ok)

	// Actual consumption was lower than the reservation
	require.NoError(t, quotas.Settle(ctx, "user-1", 200, 150))

	w, err := quotas.ActiveWindow(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), w.TokensUsed)
}

func TestReleaseReturnsReservation(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	quotas := NewQuotaStore(store)
	ctx := context.Background()
	require.NoError(t, quotas.SaveWindow(ctx, testWindow("user-1", 1000)))

	_, ok, err := quotas.Reserve(ctx, "user-1", 300)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, quotas.Release(ctx, "user-1", 300))

	w, err := quotas.ActiveWindow(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.TokensUsed)
}
