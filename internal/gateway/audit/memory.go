package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps usage entries in process memory. Used by tests and
// deployments without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entry.ID {
			return nil
		}
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MemoryStore) matches(e Entry, userID uuid.UUID, params ListParams) bool {
	if e.UserID != userID {
		return false
	}
	if params.OperationKind != "" && e.OperationKind != params.OperationKind {
		return false
	}
	if params.Status != "" && e.Status != params.Status {
		return false
	}
	if params.From != nil && e.CreatedAt.Before(*params.From) {
		return false
	}
	if params.To != nil && e.CreatedAt.After(*params.To) {
		return false
	}
	return true
}

func (m *MemoryStore) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Entry
	for _, e := range m.entries {
		if m.matches(e, userID, params) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) ListFailed(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []Entry
	for _, e := range m.entries {
		if e.Status == StatusFailure && !e.CreatedAt.Before(since) {
			failed = append(failed, e)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].CreatedAt.After(failed[j].CreatedAt)
	})
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (m *MemoryStore) Rollup(ctx context.Context, userID uuid.UUID, from, to time.Time) (*Rollup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byKind := make(map[string]*KindRollup)
	for _, e := range m.entries {
		if e.UserID != userID || e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		k, ok := byKind[e.OperationKind]
		if !ok {
			k = &KindRollup{OperationKind: e.OperationKind}
			byKind[e.OperationKind] = k
		}
		k.Requests++
		switch e.Status {
		case StatusSuccess:
			k.Successes++
		case StatusFailure:
			k.Failures++
		case StatusRateLimited, StatusQuotaExceeded:
			k.Denied++
		}
		k.TotalTokens += e.TotalTokens
		k.TotalCost += e.EstimatedCost
	}

	rollup := &Rollup{From: from, To: to}
	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		k := byKind[kind]
		rollup.ByKind = append(rollup.ByKind, *k)
		rollup.Requests += k.Requests
		rollup.TotalTokens += k.TotalTokens
		rollup.TotalCost += k.TotalCost
	}
	return rollup, nil
}

func (m *MemoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var purged int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}
