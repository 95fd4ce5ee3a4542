// Package kvstore содержит хранилище ключ-значение, в котором живут записи о покупках.
//
// Основной бэкенд: Redis (REDIS_URL), запасной: PostgreSQL (DATABASE_URI).
// Без обоих используется хранилище в памяти (только для разработки).
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound возвращается, если ключ отсутствует в хранилище.
	ErrNotFound = errors.New("key not found")
	// ErrVersionConflict возвращается, если условная запись не применена из-за изменения версии.
	ErrVersionConflict = errors.New("version conflict")
	// ErrIndeterminate возвращается, если соединение оборвалось во время условной записи
	// и неизвестно, применилась ли она. Такая запись не повторяется автоматически.
	ErrIndeterminate = errors.New("write outcome unknown")
)

// Entry содержит значение ключа и его версию. Версия растёт при каждой записи, первая запись имеет версию 1.
type Entry struct {
	Value   []byte
	Version int64
}

// Store описывает хранилище ключ-значение без транзакций и вторичных индексов.
type Store interface {
	// Get возвращает значение ключа или ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Set безусловно записывает значение.
	Set(ctx context.Context, key string, value []byte) error
	// CompareAndSwap записывает значение, только если текущая версия равна version.
	// version == 0 означает, что ключ ещё не должен существовать.
	CompareAndSwap(ctx context.Context, key string, version int64, value []byte) error
	Close() error
}

// Options задаёт параметры выбора бэкенда.
type Options struct {
	RedisURL    string
	DatabaseURI string
	// AllowMemory разрешает хранилище в памяти, если не задан ни один внешний бэкенд.
	AllowMemory bool
}

// Open создаёт лучшее доступное хранилище: Redis > PostgreSQL > память.
func Open(ctx context.Context, opts Options) (Store, string, error) {
	if opts.RedisURL != "" {
		s, err := NewRedisStore(ctx, opts.RedisURL)
		if err != nil {
			return nil, "", err
		}
		return s, "redis", nil
	}
	if opts.DatabaseURI != "" {
		s, err := NewPostgresStore(ctx, opts.DatabaseURI)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	}
	if !opts.AllowMemory {
		return nil, "", errors.New("REDIS_URL or DATABASE_URI is required; in-memory store is not allowed")
	}
	return NewMemoryStore(), "memory", nil
}
