package kvstore

import (
	"context"
	"sync"
)

// MemoryStore хранит данные в памяти процесса. Состояние теряется при перезапуске.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get возвращает копию значения ключа.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Value: cloneBytes(e.Value), Version: e.Version}, nil
}

// Set безусловно записывает значение и увеличивает версию.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	s.entries[key] = Entry{Value: cloneBytes(value), Version: e.Version + 1}
	return nil
}

// CompareAndSwap записывает значение, если версия совпадает.
func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, version int64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	switch {
	case !ok && version != 0:
		return ErrNotFound
	case !ok && version == 0:
	case e.Version != version:
		return ErrVersionConflict
	}

	s.entries[key] = Entry{Value: cloneBytes(value), Version: version + 1}
	return nil
}

// Close ничего не делает.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
