// Package repository содержит хранилища снимков корзины.
package repository

import (
	"context"
	"embed"
	"encoding/json"
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

	"github.com/mmeshcher/storefront-gateway/internal/cart"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrCartNotFound возвращается, если для владельца нет сохранённого снимка.
	ErrCartNotFound = errors.New("cart snapshot not found")
	// ErrDuplicateCheckout возвращается при повторной записи оформления с тем же ключом.
	ErrDuplicateCheckout = errors.New("checkout already recorded")
)

// Checkout запись об успешном оформлении заказа.
type Checkout struct {
	IdempotencyKey string
	OwnerKey       string
	OrderID        string
	Total          int64
	CreatedAt      time.Time
}

// PostgresRepository хранит снимки корзины в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт репозиторий и применяет миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(delays) {
			return err
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Load возвращает снимок корзины владельца.
func (r *PostgresRepository) Load(ctx context.Context, ownerKey string) (cart.Snapshot, error) {
	var raw []byte
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT snapshot FROM cart_snapshots WHERE owner_key = $1`,
			ownerKey,
		).Scan(&raw)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Snapshot{}, ErrCartNotFound
		}
		return cart.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}

	var s cart.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return cart.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Save сохраняет снимок корзины владельца.
func (r *PostgresRepository) Save(ctx context.Context, ownerKey string, s cart.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO cart_snapshots (owner_key, snapshot)
			 VALUES ($1, $2)
			 ON CONFLICT (owner_key) DO UPDATE
			 SET snapshot = EXCLUDED.snapshot,
			     version = cart_snapshots.version + 1,
			     updated_at = NOW()`,
			ownerKey, raw,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Delete удаляет снимок корзины владельца.
func (r *PostgresRepository) Delete(ctx context.Context, ownerKey string) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM cart_snapshots WHERE owner_key = $1`, ownerKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// DeleteStale удаляет снимки, не менявшиеся дольше maxAge, и возвращает их число.
func (r *PostgresRepository) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM cart_snapshots WHERE updated_at < $1`,
			time.Now().Add(-maxAge),
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale snapshots: %w", err)
	}
	return affected, nil
}

// RecordCheckout сохраняет запись об оформлении заказа.
func (r *PostgresRepository) RecordCheckout(ctx context.Context, c Checkout) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO checkout_log (idempotency_key, owner_key, order_id, total) VALUES ($1, $2, $3, $4)`,
		c.IdempotencyKey, c.OwnerKey, c.OrderID, c.Total,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateCheckout, c.IdempotencyKey)
		}
		return fmt.Errorf("insert checkout: %w", err)
	}
	return nil
}

// ListCheckouts возвращает оформления владельца, новые первыми.
func (r *PostgresRepository) ListCheckouts(ctx context.Context, ownerKey string, limit int) ([]Checkout, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT idempotency_key, owner_key, COALESCE(order_id, ''), total, created_at
		 FROM checkout_log
		 WHERE owner_key = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select checkouts: %w", err)
	}
	defer rows.Close()

	var res []Checkout
	for rows.Next() {
		var c Checkout
		if err := rows.Scan(&c.IdempotencyKey, &c.OwnerKey, &c.OrderID, &c.Total, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkout: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
