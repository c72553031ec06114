package events

import (
	"context"
	"testing"
	"time"
)

func TestBuffer_HoldsUntilFlush(t *testing.T) {
	rec := &Recorder{}
	ctx, buf := WithBuffer(context.Background())

	_ = Emit(ctx, rec, New(InvoiceCreated, "", time.Now(), nil))
	if len(rec.Events()) != 0 {
		t.Fatal("events must not publish before flush")
	}

	if err := buf.Flush(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != InvoiceCreated {
		t.Errorf("unexpected events %v", got)
	}
}

func TestBuffer_NestedKeepsOuter(t *testing.T) {
	rec := &Recorder{}
	ctx, outer := WithBuffer(context.Background())
	inner, nested := WithBuffer(ctx)
	if nested != nil {
		t.Fatal("nested WithBuffer should not create a second buffer")
	}

	_ = Emit(inner, rec, New(PaymentRecorded, "", time.Now(), nil))
	_ = nested.Flush(inner, rec)
	if len(rec.Events()) != 0 {
		t.Fatal("inner flush must be a no-op")
	}

	_ = outer.Flush(context.Background(), rec)
	if len(rec.Events()) != 1 {
		t.Errorf("expected one event after outer flush, got %d", len(rec.Events()))
	}
}

func TestBuffer_Discard(t *testing.T) {
	rec := &Recorder{}
	ctx, buf := WithBuffer(context.Background())
	_ = Emit(ctx, rec, New(ClaimAdjudicated, "", time.Now(), nil))
	buf.Discard()
	_ = buf.Flush(context.Background(), rec)
	if len(rec.Events()) != 0 {
		t.Error("discarded events must not publish")
	}
}

func TestEmit_WithoutBufferPublishes(t *testing.T) {
	rec := &Recorder{}
	_ = Emit(context.Background(), rec, New(ClaimReversed, "", time.Now(), nil))
	if len(rec.Events()) != 1 {
		t.Error("expected immediate publish")
	}
}
