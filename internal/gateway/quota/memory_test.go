package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreatesOnFirstUse(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	s, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	assert.Equal(t, userID, s.UserID)
	assert.True(t, s.Active)
	assert.Equal(t, testLimits(), s.Limits)
	assert.Zero(t, s.RequestsToday)
}

func TestMemoryStoreUpdatePersistsOnNil(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	_, err := store.Update(context.Background(), userID, testLimits(), func(s *State) error {
		s.Reserve(100, 0.1)
		return nil
	})
	require.NoError(t, err)

	s, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.RequestsToday)
	assert.Equal(t, int64(100), s.TokensToday)
}

func TestMemoryStoreUpdateDiscardsOnError(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	wantErr := assert.AnError
	_, err := store.Update(context.Background(), userID, testLimits(), func(s *State) error {
		s.Reserve(100, 0.1)
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	s, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	assert.Zero(t, s.RequestsToday)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	s1, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	s1.RequestsToday = 999

	s2, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	assert.Zero(t, s2.RequestsToday)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Update(context.Background(), userID, testLimits(), func(s *State) error {
				s.TokensToday++
				s.TokensMonth++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := store.Get(context.Background(), userID, testLimits())
	require.NoError(t, err)
	assert.Equal(t, int64(workers), s.TokensToday)
	assert.Equal(t, int64(workers), s.TokensMonth)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, uuid.New(), testLimits())
	assert.ErrorIs(t, err, context.Canceled)
}
