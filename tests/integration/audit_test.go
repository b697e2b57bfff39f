//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/gateway/audit"
)

func seedEntry(userID uuid.UUID, kind, status string, tokens int64, age time.Duration) *audit.Entry {
	return &audit.Entry{
		ID:            uuid.New(),
		UserID:        userID,
		OperationKind: kind,
		Model:         "gpt-4o-mini",
		Status:        status,
		InputTokens:   tokens - tokens/3,
		OutputTokens:  tokens / 3,
		TotalTokens:   tokens,
		EstimatedCost: float64(tokens) / 1_000_000,
		CreatedAt:     time.Now().UTC().Add(-age),
	}
}

func TestAuditStoreInsertIsIdempotent(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	entry := seedEntry(userID, "sentiment", audit.StatusSuccess, 120, 0)
	if err := env.AuditStore.Insert(ctx, entry); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Redelivered event: same ID must not produce a duplicate row.
	if err := env.AuditStore.Insert(ctx, entry); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	entries, total, err := env.AuditStore.List(ctx, userID, audit.DefaultListParams())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("total = %d, entries = %d, want 1 each", total, len(entries))
	}
}

func TestAuditStoreRollup(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	seeds := []*audit.Entry{
		seedEntry(userID, "sentiment", audit.StatusSuccess, 100, time.Minute),
		seedEntry(userID, "sentiment", audit.StatusFailure, 0, time.Minute),
		seedEntry(userID, "suggestion", audit.StatusSuccess, 300, time.Minute),
	}
	for _, e := range seeds {
		if err := env.AuditStore.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rollup, err := env.AuditStore.Rollup(ctx, userID,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if rollup.Requests != 3 {
		t.Errorf("requests = %d, want 3", rollup.Requests)
	}
	if rollup.TotalTokens != 400 {
		t.Errorf("total_tokens = %d, want 400", rollup.TotalTokens)
	}
	if len(rollup.ByKind) != 2 {
		t.Fatalf("by_kind = %d, want 2", len(rollup.ByKind))
	}
}

func TestAuditStorePurge(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	old := seedEntry(userID, "sentiment", audit.StatusSuccess, 100, 48*time.Hour)
	recent := seedEntry(userID, "sentiment", audit.StatusSuccess, 100, time.Minute)
	for _, e := range []*audit.Entry{old, recent} {
		if err := env.AuditStore.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	purged, err := env.AuditStore.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged < 1 {
		t.Fatalf("purged = %d, want >= 1", purged)
	}

	entries, _, err := env.AuditStore.List(ctx, userID, audit.DefaultListParams())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		if e.ID == old.ID {
			t.Error("old entry survived purge")
		}
	}
}
