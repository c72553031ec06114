package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNew_AssignsIDAndUTC(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	a := New(InvoiceCreated, "main", at, map[string]string{"invoice_id": "i1"})
	b := New(InvoiceCreated, "main", at, nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", a.OccurredAt.Location())
	}
	if !a.OccurredAt.Equal(at) {
		t.Errorf("timestamp changed: %v vs %v", a.OccurredAt, at)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	now := time.Now()
	_ = r.Publish(context.Background(), New(PaymentRecorded, "", now, nil), New(PaymentAllocated, "", now, nil))

	types := r.Types()
	if len(types) != 2 || types[0] != PaymentRecorded || types[1] != PaymentAllocated {
		t.Errorf("unexpected types %v", types)
	}
	if len(r.Events()) != 2 {
		t.Errorf("expected 2 events")
	}
}

func TestLogPublisher_WritesPayload(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	evt := New(StatementGenerated, "main", time.Now(), map[string]string{"statement_id": "s1"})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"event_type":"statement.generated"`) {
		t.Errorf("missing event type in %s", out)
	}
	if !strings.Contains(out, `"statement_id":"s1"`) {
		t.Errorf("missing payload in %s", out)
	}
}

func TestNop(t *testing.T) {
	if err := Nop.Publish(context.Background(), New(ClaimReversed, "", time.Now(), nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ...Event) error { return errors.New("broker down") }

func TestFanout(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	evt := New(PaymentRecorded, "default", time.Now(), nil)

	if err := (Fanout{a, b}).Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("every publisher must receive the event")
	}

	err := (Fanout{failingPublisher{}, a}).Publish(context.Background(), evt)
	if err == nil {
		t.Error("expected the failing publisher's error")
	}
	if len(a.Events()) != 2 {
		t.Error("a failing publisher must not stop the others")
	}
}
