package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxledger/rxledger/internal/platform/apperr"
)

func TestLocalLocker_Serializes(t *testing.T) {
	l := NewLocalLocker(time.Second)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
}

func TestLocalLocker_TimesOut(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	release := make(chan struct{})
	held := make(chan struct{})

	go l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		close(held)
		<-release
		return nil
	})
	<-held

	ran := false
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	close(release)

	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ran {
		t.Error("fn must not run without the lock")
	}
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker(10 * time.Millisecond)
	err := l.WithLock(context.Background(), "a", func(ctx context.Context) error {
		return l.WithLock(ctx, "b", func(ctx context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("different keys must not block: %v", err)
	}
}

func TestLocalLocker_PropagatesError(t *testing.T) {
	l := NewLocalLocker(time.Second)
	boom := errors.New("boom")
	if err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom }); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	// lock must be released after an error
	if err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock to be free, got %v", err)
	}
}

func TestStatementKey(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	if got := StatementKey("main", "p1", start, end); got != "statement:main:patient:p1:2024-03-01:2024-03-31" {
		t.Errorf("unexpected key %s", got)
	}
	if got := StatementKey("main", "", start, end); got != "statement:main:pharmacy:2024-03-01:2024-03-31" {
		t.Errorf("unexpected key %s", got)
	}
}
