package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(NewMemoryStore(), nil, testLimits())
}

func TestLedgerCheckAndReserveAllows(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()

	d, err := l.CheckAndReserve(context.Background(), userID, 100, 0.1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Reservation)
	assert.Equal(t, int64(100), d.Reservation.Tokens)

	m, err := l.Metrics(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.RequestsToday)
	assert.Equal(t, int64(100), m.TokensToday)
}

func TestLedgerDeniedLeavesCountersUntouched(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()
	require.NoError(t, l.SetActive(context.Background(), userID, false, "abuse"))

	d, err := l.CheckAndReserve(context.Background(), userID, 100, 0.1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyDisabled, d.Reason)
	assert.Nil(t, d.Reservation)

	m, err := l.Metrics(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, m.RequestsToday)
}

func TestLedgerCommitSettlesToActuals(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()

	d, err := l.CheckAndReserve(context.Background(), userID, 200, 0.2)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, l.Commit(context.Background(), *d.Reservation, 120, 0.12))

	m, err := l.Metrics(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.RequestsToday)
	assert.Equal(t, int64(120), m.TokensToday)
	assert.InDelta(t, 0.12, m.CostToday, 1e-9)
}

func TestLedgerConcurrentReservesRespectCeiling(t *testing.T) {
	// With two request slots remaining, three concurrent check-and-reserve
	// calls must admit exactly two.
	limits := testLimits()
	limits.DailyRequests = 2
	l := NewLedger(NewMemoryStore(), nil, limits)
	userID := uuid.New()

	const callers = 3
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
			require.NoError(t, err)
			results <- d.Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)

	m, err := l.Metrics(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.RequestsToday)
}

func TestLedgerRateLimitFlagLifecycle(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()

	require.NoError(t, l.ApplyRateLimit(context.Background(), userID, time.Minute))

	d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyRateLimited, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	require.NoError(t, l.ClearRateLimit(context.Background(), userID))

	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLedgerRateLimitExpiresOnItsOwn(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.NoError(t, l.ApplyRateLimit(context.Background(), userID, time.Minute))

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLedgerDailyResetAtBoundary(t *testing.T) {
	limits := testLimits()
	limits.DailyRequests = 1
	l := NewLedger(NewMemoryStore(), nil, limits)
	userID := uuid.New()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyDailyRequests, d.Reason)

	// Just past midnight the daily window resets; monthly carries over.
	l.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, int(time.Millisecond), time.UTC) }
	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	m, err := l.Metrics(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.RequestsToday)
	assert.Equal(t, int64(2), m.RequestsThisMonth)
}

func TestLedgerSetLimits(t *testing.T) {
	l := newTestLedger(t)
	userID := uuid.New()

	limits := testLimits()
	limits.DailyRequests = 1
	require.NoError(t, l.SetLimits(context.Background(), userID, limits))

	d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyDailyRequests, d.Reason)
}

func TestLedgerSmoothingFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewRateLimiter(client, 1, time.Minute)
	l := NewLedger(NewMemoryStore(), limiter, testLimits())
	userID := uuid.New()

	d, err := l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Second request inside the window trips the smoothing layer.
	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyRateLimited, d.Reason)

	// With Redis down the durable ledger still decides.
	mr.Close()
	d, err = l.CheckAndReserve(context.Background(), userID, 10, 0.01)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
