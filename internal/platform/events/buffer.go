package events

import (
	"context"
	"sync"
)

type bufferKey struct{}

// Buffer holds events raised inside a unit of work until it commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// WithBuffer returns a context whose emitted events are held in the buffer
// instead of being published. A context that already carries a buffer keeps
// it, so nested units of work flush once at the outermost level.
func WithBuffer(ctx context.Context) (context.Context, *Buffer) {
	if _, ok := ctx.Value(bufferKey{}).(*Buffer); ok {
		return ctx, nil
	}
	b := &Buffer{}
	return context.WithValue(ctx, bufferKey{}, b), b
}

// Emit publishes evts, or holds them if ctx carries a Buffer.
func Emit(ctx context.Context, p Publisher, evts ...Event) error {
	if b, ok := ctx.Value(bufferKey{}).(*Buffer); ok {
		b.mu.Lock()
		b.events = append(b.events, evts...)
		b.mu.Unlock()
		return nil
	}
	if p == nil || len(evts) == 0 {
		return nil
	}
	return p.Publish(ctx, evts...)
}

// Flush publishes the held events. A nil buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context, p Publisher) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	evts := b.events
	b.events = nil
	b.mu.Unlock()
	if p == nil || len(evts) == 0 {
		return nil
	}
	return p.Publish(ctx, evts...)
}

// Discard drops held events after a failed unit of work.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
