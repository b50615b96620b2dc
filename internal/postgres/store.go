package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the pool. Reads go straight to the pool; writes go through InTx.
type Store struct{ DB *pgxpool.Pool }

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in one transaction; any error from fn rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if uniqueViolation(err) != "" {
			return apperr.ErrDuplicateKey
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type ordersRunner struct{ s *Store }

func (r ordersRunner) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	return r.s.InTx(ctx, func(tx *Tx) error { return fn(tx) })
}

type topupRunner struct{ s *Store }

func (r topupRunner) InTx(ctx context.Context, fn func(topup.Tx) error) error {
	return r.s.InTx(ctx, func(tx *Tx) error { return fn(tx) })
}

func (s *Store) OrdersRunner() orders.TxRunner { return ordersRunner{s} }
func (s *Store) TopUpsRunner() topup.TxRunner  { return topupRunner{s} }

// Tx wraps one pgx transaction and implements the coordinators' Tx interfaces.
type Tx struct{ tx pgx.Tx }

var (
	_ orders.Tx = (*Tx)(nil)
	_ topup.Tx  = (*Tx)(nil)
)

// LockKey: advisory lock level transaksi, lepas otomatis saat commit/rollback.
func (t *Tx) LockKey(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

func noRecord(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNoRecord
	}
	return err
}

// uniqueViolation returns the violated constraint name, or "" for any other error.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
