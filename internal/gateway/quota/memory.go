package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps quota state in process memory with a per-user mutex.
// Used by tests and single-instance deployments without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*memorySlot

	now func() time.Time
}

type memorySlot struct {
	mu    sync.Mutex
	state State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[uuid.UUID]*memorySlot),
		now:   time.Now,
	}
}

func (m *MemoryStore) slot(userID uuid.UUID, defaults Limits) *memorySlot {
	m.mu.RLock()
	s, ok := m.slots[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.slots[userID]; ok {
		return s
	}
	s = &memorySlot{state: *NewState(userID, defaults, m.now())}
	m.slots[userID] = s
	return s
}

func (m *MemoryStore) Update(ctx context.Context, userID uuid.UUID, defaults Limits, fn func(*State) error) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot := m.slot(userID, defaults)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	scratch := slot.state
	if err := fn(&scratch); err != nil {
		return nil, err
	}
	scratch.UpdatedAt = m.now()
	slot.state = scratch

	out := scratch
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, userID uuid.UUID, defaults Limits) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot := m.slot(userID, defaults)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	out := slot.state
	return &out, nil
}
