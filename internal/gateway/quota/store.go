package quota

import (
	"context"

	"github.com/google/uuid"
)

// Store persists per-user quota state. Update must be atomic per user: fn
// runs inside a critical section and the mutated state is persisted only if
// fn returns nil. Unknown users are created from defaults before fn runs.
type Store interface {
	Update(ctx context.Context, userID uuid.UUID, defaults Limits, fn func(*State) error) (*State, error)
	Get(ctx context.Context, userID uuid.UUID, defaults Limits) (*State, error)
}
