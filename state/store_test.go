package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/types"
)

// storeContract exercises the behavior every backend must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Set / Get round trip. Values travel as JSON: numbers come back
	// as float64, structured values as maps.
	require.NoError(t, store.Set(ctx, "greeting", "hello"))
	got, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, store.Set(ctx, "answer", 42))
	got, err = store.Get(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)

	require.NoError(t, store.Set(ctx, "nested", map[string]any{"a": true}))
	got, err = store.Get(ctx, "nested")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": true}, got)

	// Overwrite keeps the latest value.
	require.NoError(t, store.Set(ctx, "greeting", "goodbye"))
	got, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "goodbye", got)

	// Missing key.
	_, err = store.Get(ctx, "no-such-key")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	// Increment starts absent keys at zero.
	n, err := store.Increment(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	n, err = store.Increment(ctx, "counter", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Delete is idempotent.
	require.NoError(t, store.Delete(ctx, "greeting"))
	require.NoError(t, store.Delete(ctx, "greeting"))
	_, err = store.Get(ctx, "greeting")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	// Exists sees live keys, not deleted ones.
	ok, err := store.Exists(ctx, "answer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, ok)

	// Stats counts live keys.
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalKeys) // answer, nested, counter
	assert.NotEmpty(t, stats.Backend)

	// Clear wipes everything.
	require.NoError(t, store.Clear(ctx))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalKeys)
	_, err = store.Get(ctx, "answer")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

// concurrentIncrement hammers one counter from many goroutines: the
// final value must equal the number of increments.
func concurrentIncrement(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	const workers = 32
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Increment(ctx, "hits", 1); err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), got)
}

// ---------------------------------------------------------------------------
// memory backend
// ---------------------------------------------------------------------------

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	defer store.Close()
	storeContract(t, store)
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	defer store.Close()
	concurrentIncrement(t, store)
}

// ---------------------------------------------------------------------------
// sqlite backend
// ---------------------------------------------------------------------------

func newSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()
	store, _ := newSQLiteStore(t)
	storeContract(t, store)
}

func TestSQLiteStore_ConcurrentIncrement(t *testing.T) {
	t.Parallel()
	store, _ := newSQLiteStore(t)
	concurrentIncrement(t, store)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "durable", "yes"))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}

// ---------------------------------------------------------------------------
// redis backend
// ---------------------------------------------------------------------------

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = srv.Addr()
	store, err := NewRedisStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()
	storeContract(t, newRedisStore(t))
}

func TestRedisStore_ConcurrentIncrement(t *testing.T) {
	t.Parallel()
	concurrentIncrement(t, newRedisStore(t))
}

func TestRedisStore_KeysArePrefixed(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = srv.Addr()
	cfg.KeyPrefix = "forge:test:"
	store, err := NewRedisStore(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(context.Background(), "key", "value"))
	assert.True(t, srv.Exists("forge:test:key"))
}
