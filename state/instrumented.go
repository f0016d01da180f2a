package state

import (
	"context"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/types"
)

// instrumentedStore counts operations on the way through to the
// wrapped store. Failed operations count too; the label is the
// operation, not the outcome.
type instrumentedStore struct {
	inner types.Store
	mc    *metrics.Collector
}

// Instrument wraps store so every operation is observed by mc. A nil
// collector returns store unwrapped.
func Instrument(store types.Store, mc *metrics.Collector) types.Store {
	if mc == nil || store == nil {
		return store
	}
	return &instrumentedStore{inner: store, mc: mc}
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value any) error {
	s.mc.ObserveStoreOp("set")
	return s.inner.Set(ctx, key, value)
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (any, error) {
	s.mc.ObserveStoreOp("get")
	return s.inner.Get(ctx, key)
}

func (s *instrumentedStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.mc.ObserveStoreOp("increment")
	return s.inner.Increment(ctx, key, delta)
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	s.mc.ObserveStoreOp("delete")
	return s.inner.Delete(ctx, key)
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mc.ObserveStoreOp("exists")
	return s.inner.Exists(ctx, key)
}

func (s *instrumentedStore) Clear(ctx context.Context) error {
	s.mc.ObserveStoreOp("clear")
	return s.inner.Clear(ctx)
}

func (s *instrumentedStore) Stats(ctx context.Context) (types.StoreStats, error) {
	s.mc.ObserveStoreOp("stats")
	return s.inner.Stats(ctx)
}
