package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHashStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expires map[string]time.Duration
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{hashes: map[string]map[string]string{}, expires: map[string]time.Duration{}}
}

func (f *fakeHashStore) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeHashStore) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeHashStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeHashStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func exerciseTracker(t *testing.T, tr Tracker) {
	ctx := context.Background()

	_, err := tr.Get(ctx, "job-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, tr.Update(ctx, "job-1", Progress{Status: StatusTranscribing, Message: "Transcribing audio segments...", Percentage: 62}))
	got, err := tr.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, Progress{Status: StatusTranscribing, Message: "Transcribing audio segments...", Percentage: 62}, got)

	done := Progress{Status: StatusCompleted, Message: "done", Percentage: 100, Completed: true}
	require.NoError(t, tr.Update(ctx, "job-1", done))
	got, err = tr.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, done, got)

	require.NoError(t, tr.Delete(ctx, "job-1"))
	_, err = tr.Get(ctx, "job-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker())
}

func TestRedisTracker(t *testing.T) {
	store := newFakeHashStore()
	tr := NewRedisTracker(store, "segscribe:", time.Hour)
	exerciseTracker(t, tr)
	assert.Equal(t, time.Hour, store.expires["segscribe:progress:job-1"])
}

func TestDispatchPercent(t *testing.T) {
	assert.Equal(t, 30, DispatchPercent(0, 0))
	assert.Equal(t, 30, DispatchPercent(0, 10))
	assert.Equal(t, 62, DispatchPercent(1, 2))
	assert.Equal(t, 95, DispatchPercent(3, 3))
}
