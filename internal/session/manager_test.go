package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWithSessionCreatesAndPersists(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute, nil)

	err := m.WithSession(context.Background(), "s1", func(s *Session) error {
		assert.Equal(t, PhaseIdle, s.Phase)
		s.Phase = PhaseClarifying
		s.Brief = "lofi"
		return nil
	})
	require.NoError(t, err)

	got, err := m.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseClarifying, got.Phase)
	assert.Equal(t, "lofi", got.Brief)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestWithSessionDiscardsChangesOnError(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute, nil)
	require.NoError(t, m.WithSession(context.Background(), "s1", func(s *Session) error {
		s.Brief = "kept"
		return nil
	}))

	boom := errors.New("boom")
	err := m.WithSession(context.Background(), "s1", func(s *Session) error {
		s.Brief = "lost"
		s.MarkProcessed("m1", 8)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Brief)
	assert.False(t, got.HasProcessed("m1"))
}

func TestWithSessionSerializesSameID(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithSession(context.Background(), "shared", func(s *Session) error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				s.RefinementRound++
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Snapshot(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 40, got.RefinementRound)
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestWithSessionRunsDifferentIDsInParallel(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	entered := make(chan struct{}, 2)
	proceed := make(chan struct{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithSession(context.Background(), id, func(*Session) error {
				entered <- struct{}{}
				<-proceed
				return nil
			})
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(proceed)
			wg.Wait()
			t.Fatalf("sessions for different ids did not run concurrently")
		}
	}
	close(proceed)
	wg.Wait()
}

func TestWithSessionHonorsContextWhileWaiting(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	hold := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithSession(context.Background(), "s1", func(*Session) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithSession(ctx, "s1", func(*Session) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(hold)
	<-done
}

func TestSnapshotUnknownSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	_, err := m.Snapshot(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResetKeepsProcessedIDs(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	require.NoError(t, m.WithSession(context.Background(), "s1", func(s *Session) error {
		s.Phase = PhaseAwaitingCoverDecision
		s.Brief = "jazz"
		s.Selected = []string{"v1"}
		s.MarkProcessed("m1", 8)
		s.IncRetry(OpCover)
		return nil
	}))
	require.NoError(t, m.Reset(context.Background(), "s1"))

	got, err := m.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, got.Phase)
	assert.Empty(t, got.Brief)
	assert.Empty(t, got.Selected)
	assert.Zero(t, got.RetryCount(OpCover))
	assert.True(t, got.HasProcessed("m1"))
}

func TestEvictIdleDropsVolatileSessions(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Minute, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	var evicted []string
	m.SetEvictHook(func(id string, active int) {
		evicted = append(evicted, fmt.Sprintf("%s:%d", id, active))
	})

	for _, id := range []string{"old", "fresh"} {
		require.NoError(t, m.WithSession(context.Background(), id, func(*Session) error { return nil }))
		clock = clock.Add(45 * time.Second)
	}

	assert.Equal(t, 1, m.evictIdle(context.Background()))
	assert.Equal(t, []string{"old:1"}, evicted)
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, 1, store.Len())

	_, err := m.Snapshot(context.Background(), "old")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvictIdleSkipsSessionInFlight(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	started := make(chan struct{})
	hold := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithSession(context.Background(), "busy", func(*Session) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	clock = clock.Add(2 * time.Minute)

	assert.Zero(t, m.evictIdle(context.Background()))
	assert.Equal(t, 1, m.ActiveCount())

	close(hold)
	<-done
}

func TestStartJanitorStopsWithContext(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Millisecond, nil)
	require.NoError(t, m.WithSession(context.Background(), "s1", func(*Session) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	m.StartJanitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore()
	s := New("s1", time.Now())
	require.NoError(t, store.Save(context.Background(), s))
	assert.Equal(t, int64(1), s.Version)

	stale := s.Clone()
	stale.Version = 0
	require.ErrorIs(t, store.Save(context.Background(), stale), ErrVersionConflict)

	require.NoError(t, store.Save(context.Background(), s))
	assert.Equal(t, int64(2), s.Version)
}
