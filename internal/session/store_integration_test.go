//go:build integration

package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: go test -tags integration ./internal/session/
// TUNESMITH_TEST_REDIS_URL and TUNESMITH_TEST_DATABASE_URL select the live backends.

func TestRedisStoreVersionConflict(t *testing.T) {
	url := os.Getenv("TUNESMITH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TUNESMITH_TEST_REDIS_URL not set")
	}
	store, err := NewRedisStoreFromURL(context.Background(), url, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseVersionConflicts(t, store)
}

func TestPostgresStoreVersionConflict(t *testing.T) {
	url := os.Getenv("TUNESMITH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TUNESMITH_TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseVersionConflicts(t, store)
}

func exerciseVersionConflicts(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	id := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = store.Delete(context.Background(), id) })

	t.Run("stale version", func(t *testing.T) {
		s := New(id, time.Now())
		require.NoError(t, store.Save(ctx, s))
		assert.Equal(t, int64(1), s.Version)

		stale := s.Clone()
		stale.Version = 0
		require.ErrorIs(t, store.Save(ctx, stale), ErrVersionConflict)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		base, err := store.Load(ctx, id)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			s := base.Clone()
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Save(ctx, s)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, ErrVersionConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, base.Version+1, loaded.Version)
	})
}
