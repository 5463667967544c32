package api

import (
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/auth"
	ws "github.com/crmorbit-ai/crm-v1-sub004/internal/websocket"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketHandler handles the /api/v1/ws endpoint for tenant events.
type WebSocketHandler struct {
	hub *ws.Hub
	log zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, log: log.With().Str("handler", "ws").Logger()}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway in front of this service enforces origins.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub under the caller's tenant.
// The tenant only ever comes from the gateway identity headers. Query parameters are ignored.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("tenant_id", identity.TenantID).Msg("failed to upgrade connection")
		return
	}

	client := h.hub.Register(identity.TenantID, conn)
	if client == nil {
		return
	}

	h.log.Debug().Str("tenant_id", identity.TenantID).Str("user_id", identity.UserID).Msg("websocket connected")
	go h.readLoop(identity.TenantID, client)
}

// readLoop discards client frames until the connection closes, then unregisters it.
func (h *WebSocketHandler) readLoop(tenantID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(tenantID, client)
}
