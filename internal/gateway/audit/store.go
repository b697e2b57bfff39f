package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists usage log entries.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	List(ctx context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error)
	ListFailed(ctx context.Context, since time.Time, limit int) ([]Entry, error)
	Rollup(ctx context.Context, userID uuid.UUID, from, to time.Time) (*Rollup, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
