//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/gateway/quota"
)

// Ten concurrent reservations against a daily ceiling of five must admit
// exactly five, with the row lock serializing the check-and-reserve.
func TestPostgresQuotaConcurrentReserves(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	limits := env.Limits
	limits.DailyRequests = 5
	ledger := quota.NewLedger(quota.NewPostgresStore(env.Pool), nil, limits)
	userID := uuid.New()

	const attempts = 10
	var wg sync.WaitGroup
	decisions := make([]*quota.Decision, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = ledger.CheckAndReserve(ctx, userID, 100, 0.01)
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("reserve %d: %v", i, errs[i])
		}
		if decisions[i].Allowed {
			allowed++
		} else if decisions[i].Reason != quota.DenyDailyRequests {
			t.Errorf("reserve %d denied with %s, want %s", i, decisions[i].Reason, quota.DenyDailyRequests)
		}
	}
	if allowed != 5 {
		t.Fatalf("allowed = %d, want 5", allowed)
	}

	metrics, err := ledger.Metrics(ctx, userID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.RequestsToday != 5 {
		t.Errorf("requests_today = %d, want 5", metrics.RequestsToday)
	}
}

func TestPostgresQuotaSettleAdjustsEstimate(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	ledger := quota.NewLedger(quota.NewPostgresStore(env.Pool), nil, env.Limits)
	userID := uuid.New()

	decision, err := ledger.CheckAndReserve(ctx, userID, 500, 0.05)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied with %s", decision.Reason)
	}

	if err := ledger.Commit(ctx, *decision.Reservation, 130, 0.002); err != nil {
		t.Fatalf("commit: %v", err)
	}

	metrics, err := ledger.Metrics(ctx, userID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.TokensToday != 130 {
		t.Errorf("tokens_today = %d, want 130", metrics.TokensToday)
	}
	if metrics.RequestsToday != 1 {
		t.Errorf("requests_today = %d, want 1", metrics.RequestsToday)
	}
}

func TestPostgresQuotaLimitsPersist(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	store := quota.NewPostgresStore(env.Pool)
	ledger := quota.NewLedger(store, nil, env.Limits)
	userID := uuid.New()

	custom := quota.Limits{
		DailyRequests:   3,
		DailyTokens:     1000,
		DailyCost:       0.5,
		MonthlyRequests: 30,
		MonthlyTokens:   10_000,
		MonthlyCost:     5,
	}
	if err := ledger.SetLimits(ctx, userID, custom); err != nil {
		t.Fatalf("set limits: %v", err)
	}

	// A second ledger over the same store sees the stored limits, not
	// the process defaults.
	other := quota.NewLedger(quota.NewPostgresStore(env.Pool), nil, env.Limits)
	state, err := other.Metrics(ctx, userID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if state.Limits != custom {
		t.Errorf("limits = %+v, want %+v", state.Limits, custom)
	}
}
