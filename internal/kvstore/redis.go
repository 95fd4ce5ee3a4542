package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
)

// RedisStore хранит каждый ключ как хеш с полями value и version.
// Условная запись выполняется через WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore подключается к Redis по URL и проверяет соединение.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient оборачивает уже созданный клиент. Соединение не проверяется.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get возвращает значение ключа.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("redis hgetall: %w", err)
	}
	return decodeHash(data)
}

// Set безусловно записывает значение и увеличивает версию.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldValue, value)
		p.HIncrBy(ctx, key, fieldVersion, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CompareAndSwap записывает значение, если версия ключа не изменилась.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, version int64, value []byte) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis hgetall: %w", err)
		}

		current, err := decodeHash(data)
		switch {
		case errors.Is(err, ErrNotFound):
			if version != 0 {
				return ErrNotFound
			}
		case err != nil:
			return err
		case current.Version != version:
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, fieldValue, value, fieldVersion, version+1)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: redis exec: %v", ErrIndeterminate, err)
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("redis compare and swap: %w", err)
	}
	return err
}

// Close закрывает клиент Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeHash(data map[string]string) (Entry, error) {
	if len(data) == 0 {
		return Entry{}, ErrNotFound
	}

	raw, ok := data[fieldValue]
	if !ok {
		return Entry{}, ErrNotFound
	}

	version, err := strconv.ParseInt(data[fieldVersion], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse version: %w", err)
	}

	return Entry{Value: []byte(raw), Version: version}, nil
}
