// Package websocket streams committed ledger events to connected clients.
// Clients subscribe to event types ("payment.recorded", or "*" for all) and
// only ever receive events of their own pharmacy.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
)

// AllEvents subscribes a client to every event type.
const AllEvents = "*"

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected feed consumer.
type Client struct {
	ID     string
	Tenant string
	Send   chan []byte

	topics map[string]bool
}

func NewClient(tenant string, topics ...string) *Client {
	c := &Client{ID: uuid.NewString(), Tenant: tenant, Send: make(chan []byte, 256), topics: make(map[string]bool)}
	for _, t := range topics {
		c.topics[t] = true
	}
	return c
}

func (c *Client) wants(eventType string) bool {
	return c.topics[AllEvents] || c.topics[eventType]
}

// Hub tracks connected clients. It is an events.Publisher, so it can sit
// next to the broker publisher and receive the same flushed events.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister drops the client and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = true
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Publish fans evts out to the subscribed clients of each event's tenant.
// Slow clients whose buffers are full miss the event.
func (h *Hub) Publish(_ context.Context, evts ...events.Event) error {
	for _, evt := range evts {
		data, err := json.Marshal(evt)
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", evt.Type).Msg("failed to encode event for websocket")
			continue
		}
		h.mu.RLock()
		for c := range h.clients {
			if c.Tenant != evt.TenantID || !c.wants(evt.Type) {
				continue
			}
			select {
			case c.Send <- data:
			default:
			}
		}
		h.mu.RUnlock()
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/events/ws", h.Connect, mw...)
}

// Connect upgrades the request and streams events of the caller's tenant.
// Initial topics may be given as repeated ?topic= parameters.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := NewClient(db.TenantFromContext(c.Request().Context()), c.QueryParams()["topic"]...)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
