package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

func newTestMemory(now *time.Time) *MemoryStore {
	memoryStore := NewMemory()
	memoryStore.Now = func() time.Time { return *now }

	return memoryStore
}

func TestMemoryStorePutGet(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	err := memoryStore.Put(ctx, "k", testDoc{Value: "a"}, time.Minute)
	require.NoError(t, err)

	var got testDoc

	err = memoryStore.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.Equal(t, "a", got.Value)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)

	var got testDoc

	err := memoryStore.Get(context.Background(), "missing", &got)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	err := memoryStore.Put(ctx, "k", testDoc{Value: "a"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	var got testDoc

	err = memoryStore.Get(ctx, "k", &got)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStorePutIfAbsent(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	stored, err := memoryStore.PutIfAbsent(ctx, "k", testDoc{Value: "first"}, time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = memoryStore.PutIfAbsent(ctx, "k", testDoc{Value: "second"}, time.Minute)
	require.NoError(t, err)
	require.False(t, stored)

	var got testDoc

	err = memoryStore.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.Equal(t, "first", got.Value)
}

func TestMemoryStorePutIfAbsentAfterExpiry(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	_, err := memoryStore.PutIfAbsent(ctx, "k", testDoc{Value: "first"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(time.Hour)

	stored, err := memoryStore.PutIfAbsent(ctx, "k", testDoc{Value: "second"}, time.Minute)
	require.NoError(t, err)
	require.True(t, stored)
}

func TestMemoryStoreCompareAndPut(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	err := memoryStore.Put(ctx, "k", testDoc{Value: "a", Version: 0}, time.Minute)
	require.NoError(t, err)

	err = memoryStore.CompareAndPut(ctx, "k", 0, testDoc{Value: "b", Version: 1}, time.Minute)
	require.NoError(t, err)

	err = memoryStore.CompareAndPut(ctx, "k", 0, testDoc{Value: "c", Version: 1}, time.Minute)
	require.ErrorIs(t, err, ErrVersionConflict)

	err = memoryStore.CompareAndPut(ctx, "other", 0, testDoc{Value: "c"}, time.Minute)
	require.ErrorIs(t, err, ErrKeyNotFound)

	var got testDoc

	err = memoryStore.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.Equal(t, "b", got.Value)
}

func TestMemoryStoreKeys(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	err := memoryStore.Put(ctx, OutboxKey("1"), testDoc{}, time.Minute)
	require.NoError(t, err)
	err = memoryStore.Put(ctx, OutboxKey("2"), testDoc{}, time.Second)
	require.NoError(t, err)
	err = memoryStore.Put(ctx, SessionKey("1"), testDoc{}, time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)

	keys, err := memoryStore.Keys(ctx, OutboxKeyPattern)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{OutboxKey("1")}, keys)
}

func TestMemoryStoreDelete(t *testing.T) {
	now := time.Now()
	memoryStore := newTestMemory(&now)
	ctx := context.Background()

	err := memoryStore.Put(ctx, "k", testDoc{}, time.Minute)
	require.NoError(t, err)

	err = memoryStore.Delete(ctx, "k")
	require.NoError(t, err)

	var got testDoc

	err = memoryStore.Get(ctx, "k", &got)
	require.ErrorIs(t, err, ErrKeyNotFound)
}
