package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Envelope is the JSON frame sent to every client.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client wraps a WebSocket connection.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per tenant.
// Every connection of a tenant receives every event of that tenant.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{} // tenantID -> set of clients
	maxPerTenant int
	log          zerolog.Logger
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a new Hub with a per-tenant connection limit.
func NewHub(maxPerTenant int, log zerolog.Logger) *Hub {
	if maxPerTenant <= 0 {
		maxPerTenant = 100
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		maxPerTenant: maxPerTenant,
		log:          log.With().Str("component", "ws_hub").Logger(),
	}
}

// Register adds a WebSocket connection for the given tenant.
// If the per-tenant limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(tenantID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	tenantClients, ok := h.clients[tenantID]
	if !ok {
		tenantClients = make(map[*Client]struct{})
		h.clients[tenantID] = tenantClients
	}

	if len(tenantClients) >= h.maxPerTenant {
		h.log.Warn().Str("tenant_id", tenantID).Int("max", h.maxPerTenant).Msg("too many connections, closing new one")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this tenant"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	tenantClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given tenant and closes the connection.
func (h *Hub) Unregister(tenantID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if tenantClients, ok := h.clients[tenantID]; ok {
		delete(tenantClients, client)
		if len(tenantClients) == 0 {
			delete(h.clients, tenantID)
		}
	}

	_ = client.conn.Close()
}

// Publish sends the event to every client of the tenant. Failures are logged, never returned.
func (h *Hub) Publish(tenantID, event string, payload any) {
	msg, err := json.Marshal(Envelope{Type: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	h.Send(tenantID, msg)
}

// Send broadcasts a raw frame to all active clients of the tenant.
func (h *Hub) Send(tenantID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[tenantID]))
	for client := range h.clients[tenantID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.log.Debug().Err(err).Str("tenant_id", tenantID).Msg("dropping client after failed write")
			go h.Unregister(tenantID, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a tenant.
func (h *Hub) ActiveConnections(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[tenantID])
}
