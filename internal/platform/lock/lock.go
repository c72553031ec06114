// Package lock serializes batch work such as statement generation per key.
// Redis is used when configured so that several server instances share one
// lock space; otherwise Postgres advisory locks scoped to the running
// transaction give the same guarantee within one database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
)

// Locker runs fn while holding an exclusive lock on key. Waiting is bounded;
// when the lock cannot be taken in time a Conflict error is returned and fn
// does not run.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

var errNotAcquired = errors.New("lock not acquired")

func busy(key string) error {
	return apperr.Conflict("another run holds lock %s, retry later", key)
}

// RedisLocker takes SET NX PX locks with a random token and releases them
// only if the token still matches.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, poll: 50 * time.Millisecond, logger: logger}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) tryLock(ctx context.Context, key, token string) error {
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return errNotAcquired
	}
	return nil
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	key = "rxledger:lock:" + key
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		err := l.tryLock(ctx, key, token)
		if err == nil {
			break
		}
		if !errors.Is(err, errNotAcquired) {
			return err
		}
		if time.Now().After(deadline) {
			return busy(key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}

	defer func() {
		// Release on a fresh context so a cancelled request still unlocks.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("lock_key", key).Msg("release lock")
		}
	}()

	return fn(ctx)
}

// AdvisoryLocker takes pg_advisory_xact_lock inside a transaction and runs fn
// in that same transaction, so the lock is released on commit or rollback.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	tx   db.Transactor
	wait time.Duration
}

func NewAdvisoryLocker(pool *pgxpool.Pool, tx db.Transactor, wait time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, tx: tx, wait: wait}
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.tx.InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, l.pool)
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", l.wait.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
			return apperr.Wrap(apperr.KindConflict, err, "another run holds lock %s, retry later", key)
		}
		if _, err := conn.Exec(ctx, "SET LOCAL lock_timeout = DEFAULT"); err != nil {
			return fmt.Errorf("reset lock_timeout: %w", err)
		}
		return fn(ctx)
	})
}

// LocalLocker is an in-process keyed mutex, for tests and single-node use.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, taken := l.held[key]
		if !taken {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return busy(key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer func() {
		l.mu.Lock()
		close(l.held[key])
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

// StatementKey names the lock for one statement period. An empty patient id
// means the pharmacy-wide statement.
func StatementKey(tenant, patientID string, start, end time.Time) string {
	scope := "pharmacy"
	if patientID != "" {
		scope = "patient:" + patientID
	}
	return fmt.Sprintf("statement:%s:%s:%s:%s", tenant, scope, start.Format("2006-01-02"), end.Format("2006-01-02"))
}
