package kvstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore хранит ключи в таблице kv_entries.
type PostgresStore struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresStore создаёт пул соединений и применяет миграции.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond},
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn, пока retryable считает ошибку временной.
func (s *PostgresStore) withRetry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error

	for i := 0; i <= len(s.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) || i == len(s.delays) {
			break
		}

		timer := time.NewTimer(s.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable подходит для чтений и безусловной записи.
func isRetryable(err error) bool {
	return isTxAborted(err) || isConnectionError(err)
}

// isTxAborted сообщает, что сервер откатил запрос целиком, поэтому его безопасно повторить
// даже для условной записи.
func isTxAborted(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// conditionalWriteError помечает обрыв соединения во время условной записи как ErrIndeterminate.
func conditionalWriteError(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %s: %v", ErrIndeterminate, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Get возвращает значение ключа.
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := s.withRetry(ctx, isRetryable, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT value, version FROM kv_entries WHERE key = $1`,
			key,
		).Scan(&e.Value, &e.Version)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("select entry: %w", err)
	}
	return e, nil
}

// Set безусловно записывает значение и увеличивает версию.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.withRetry(ctx, isRetryable, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO kv_entries (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE
			 SET value = EXCLUDED.value, version = kv_entries.version + 1, updated_at = now()`,
			key, value,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// CompareAndSwap записывает значение, если версия строки совпадает.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, version int64, value []byte) error {
	if version == 0 {
		return s.insert(ctx, key, value)
	}

	var affected int64
	err := s.withRetry(ctx, isTxAborted, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE kv_entries SET value = $3, version = version + 1, updated_at = now()
			 WHERE key = $1 AND version = $2`,
			key, version, value,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return conditionalWriteError("update entry", err)
	}
	if affected == 1 {
		return nil
	}

	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	return ErrVersionConflict
}

func (s *PostgresStore) insert(ctx context.Context, key string, value []byte) error {
	err := s.withRetry(ctx, isTxAborted, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO kv_entries (key, value) VALUES ($1, $2)`,
			key, value,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrVersionConflict
		}
		return conditionalWriteError("insert entry", err)
	}
	return nil
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
