package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxledger/rxledger/internal/platform/events"
)

func event(typ, tenant string) events.Event {
	return events.New(typ, tenant, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC), map[string]string{"id": "x"})
}

func received(c *Client) int {
	n := 0
	for {
		select {
		case <-c.Send:
			n++
		default:
			return n
		}
	}
}

func TestHub_PublishFiltersByTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	payments := NewClient("default", events.PaymentRecorded)
	everything := NewClient("default", AllEvents)
	idle := NewClient("default")
	for _, c := range []*Client{payments, everything, idle} {
		hub.Register(c)
	}

	hub.Publish(context.Background(), event(events.PaymentRecorded, "default"), event(events.InvoiceCreated, "default"))

	if n := received(payments); n != 1 {
		t.Errorf("payments client got %d events, want 1", n)
	}
	if n := received(everything); n != 2 {
		t.Errorf("wildcard client got %d events, want 2", n)
	}
	if n := received(idle); n != 0 {
		t.Errorf("unsubscribed client got %d events", n)
	}
}

func TestHub_PublishIsolatesTenants(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine := NewClient("north", AllEvents)
	theirs := NewClient("south", AllEvents)
	hub.Register(mine)
	hub.Register(theirs)

	hub.Publish(context.Background(), event(events.ClaimAdjudicated, "north"))

	if n := received(mine); n != 1 {
		t.Errorf("own tenant got %d events, want 1", n)
	}
	if n := received(theirs); n != 0 {
		t.Errorf("other tenant got %d events, want 0", n)
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("default")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{events.StatementGenerated}})
	hub.Publish(context.Background(), event(events.StatementGenerated, "default"))
	if n := received(c); n != 1 {
		t.Fatalf("got %d events after subscribe, want 1", n)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{events.StatementGenerated}})
	hub.Publish(context.Background(), event(events.StatementGenerated, "default"))
	if n := received(c); n != 0 {
		t.Errorf("got %d events after unsubscribe, want 0", n)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "noop", Topics: []string{AllEvents}})
	if c.wants(events.InvoiceOverdue) {
		t.Error("unknown action must not subscribe")
	}
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Tenant: "default", Send: make(chan []byte, 1), topics: map[string]bool{AllEvents: true}}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), event(events.PaymentRecorded, "default"), event(events.PaymentAllocated, "default"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client buffer")
	}
	if n := received(c); n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("default", AllEvents)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Error("send channel must be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d", hub.ClientCount())
	}
	// Publishing after unregister must not panic on the closed channel.
	hub.Publish(context.Background(), event(events.PaymentRecorded, "default"))
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := NewClient("default", AllEvents)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), event(events.InvoiceCreated, "default"))
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d", hub.ClientCount())
	}
}

func TestHandler_ConnectRequiresUpgrade(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewHub(zerolog.Nop()))
	req := httptest.NewRequest(http.MethodGet, "/events/ws", nil)
	rec := httptest.NewRecorder()
	if err := h.Connect(e.NewContext(req, rec)); err == nil && rec.Code == http.StatusOK {
		t.Error("plain GET must not be upgraded")
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws?topic=" + events.PaymentRecorded
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d", hub.ClientCount())
	}

	hub.Publish(context.Background(), event(events.InvoiceCreated, ""), event(events.PaymentRecorded, ""))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != events.PaymentRecorded {
		t.Errorf("event type = %s, want %s", got.Type, events.PaymentRecorded)
	}
}
