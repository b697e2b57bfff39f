package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/nats"
)

// EventPublisher publishes usage events for asynchronous persistence.
// Satisfied by *nats.Publisher.
type EventPublisher interface {
	PublishUsageEvent(ctx context.Context, event nats.UsageEvent) error
}

// Service is the usage audit log. Record never returns an error: audit write
// failures are logged and must not fail the invocation that produced them.
type Service struct {
	store     Store
	publisher EventPublisher
}

// NewService creates the audit service. publisher may be nil, in which case
// entries are written straight to the store.
func NewService(store Store, publisher EventPublisher) *Service {
	return &Service{store: store, publisher: publisher}
}

// Record persists one usage entry. When NATS is configured the entry is
// published and persisted by the consumer; on publish failure it falls back
// to a direct store insert so the entry is not lost.
func (s *Service) Record(ctx context.Context, entry *Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if s.publisher != nil {
		err := s.publisher.PublishUsageEvent(ctx, entry.Event())
		if err == nil {
			return
		}
		slog.Warn("publishing usage event, falling back to direct insert",
			"error", err, "entry_id", entry.ID)
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		slog.Error("recording usage entry",
			"error", err,
			"entry_id", entry.ID,
			"user_id", entry.UserID,
			"operation_kind", entry.OperationKind,
			"status", entry.Status)
	}
}

// List returns the user's usage entries, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	entries, total, err := s.store.List(ctx, userID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("listing usage entries: %w", err)
	}
	return entries, total, nil
}

// ListFailed returns recent failed invocations across all users, for
// operational triage.
func (s *Service) ListFailed(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	entries, err := s.store.ListFailed(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed entries: %w", err)
	}
	return entries, nil
}

// Rollup aggregates the user's usage over [from, to] broken down by kind.
func (s *Service) Rollup(ctx context.Context, userID uuid.UUID, from, to time.Time) (*Rollup, error) {
	rollup, err := s.store.Rollup(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("building usage rollup: %w", err)
	}
	return rollup, nil
}

// PurgeOlderThan deletes entries past the retention window.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	purged, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging usage entries: %w", err)
	}
	if purged > 0 {
		slog.Info("purged usage entries", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}

// RunRetention periodically purges entries older than retention. Blocks
// until ctx is cancelled.
func (s *Service) RunRetention(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOlderThan(ctx, time.Now().UTC().Add(-retention)); err != nil {
				slog.Error("retention purge", "error", err)
			}
		}
	}
}
