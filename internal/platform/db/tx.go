package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queryable is the subset of pgx shared by pools, connections and
// transactions. Repositories resolve one per call via Conn.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Conn picks the innermost handle for ctx: the open transaction, then the
// tenant connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// TxFromContext returns the transaction stored by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection held in ctx and
// returns a context carrying it.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Transactor runs fn inside a single all-or-nothing transaction scope.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TransactorFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Passthrough runs fn without a transaction. In-memory stores use it.
var Passthrough Transactor = TransactorFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

type pgTransactor struct{ pool *pgxpool.Pool }

// NewTransactor returns a Transactor backed by pool. Calls nested inside an
// open transaction join it instead of starting a new one.
func NewTransactor(pool *pgxpool.Pool) Transactor {
	return &pgTransactor{pool: pool}
}

func (t *pgTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var (
		tx  pgx.Tx
		err error
	)
	if conn := ConnFromContext(ctx); conn != nil {
		ctx, tx, err = WithTx(ctx)
	} else {
		tx, err = t.pool.Begin(ctx)
		ctx = context.WithValue(ctx, DBTxKey, tx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NotFound reports whether err is pgx's empty-result error.
func NotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
