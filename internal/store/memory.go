package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used by unit tests and single-node
// development runs. Expiry is evaluated lazily against the injected clock.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem

	// Now is swappable so tests can drive TTL expiry deterministically.
	Now func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		Now:   time.Now,
	}
}

func (memoryStore *MemoryStore) Get(ctx context.Context, key string, dest any) error {
	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	data, ok := memoryStore.live(key)
	if !ok {
		return ErrKeyNotFound
	}

	return json.Unmarshal(data, dest)
}

func (memoryStore *MemoryStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	memoryStore.items[key] = memoryItem{data: data, expiresAt: memoryStore.Now().Add(ttl)}

	return nil
}

func (memoryStore *MemoryStore) PutIfAbsent(
	ctx context.Context,
	key string,
	value any,
	ttl time.Duration,
) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	if _, ok := memoryStore.live(key); ok {
		return false, nil
	}

	memoryStore.items[key] = memoryItem{data: data, expiresAt: memoryStore.Now().Add(ttl)}

	return true, nil
}

func (memoryStore *MemoryStore) CompareAndPut(
	ctx context.Context,
	key string,
	expectedVersion int64,
	value any,
	ttl time.Duration,
) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	current, ok := memoryStore.live(key)
	if !ok {
		return ErrKeyNotFound
	}

	var doc struct {
		Version int64 `json:"version"`
	}

	err = json.Unmarshal(current, &doc)
	if err != nil {
		return err
	}

	if doc.Version != expectedVersion {
		return ErrVersionConflict
	}

	memoryStore.items[key] = memoryItem{data: data, expiresAt: memoryStore.Now().Add(ttl)}

	return nil
}

func (memoryStore *MemoryStore) Delete(ctx context.Context, key string) error {
	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	delete(memoryStore.items, key)

	return nil
}

func (memoryStore *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	memoryStore.mu.Lock()
	defer memoryStore.mu.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	keys := make([]string, 0)

	for key := range memoryStore.items {
		if _, ok := memoryStore.live(key); !ok {
			continue
		}

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (memoryStore *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (memoryStore *MemoryStore) Close() error {
	return nil
}

// live returns the stored bytes when the key exists and has not expired.
// Expired entries are removed on the way. Callers must hold the mutex.
func (memoryStore *MemoryStore) live(key string) ([]byte, bool) {
	item, ok := memoryStore.items[key]
	if !ok {
		return nil, false
	}

	if !memoryStore.Now().Before(item.expiresAt) {
		delete(memoryStore.items, key)

		return nil, false
	}

	return item.data, true
}
