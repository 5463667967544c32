package api

import (
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/rs/zerolog"
)

// ConnectionController starts, stops and reports live mailbox connections. *imap.Manager satisfies it.
type ConnectionController interface {
	Restart(userID, tenantID string, creds imap.Credentials) bool
	StopForUser(userID string)
	Status() []imap.ConnectionStatus
}

// ConnectionsHandler reports the live mailbox connections of the caller's tenant.
type ConnectionsHandler struct {
	manager ConnectionController
	log     zerolog.Logger
}

// NewConnectionsHandler creates a new ConnectionsHandler instance.
func NewConnectionsHandler(manager ConnectionController, log zerolog.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{manager: manager, log: log.With().Str("handler", "connections").Logger()}
}

// List returns the connection status of every mailbox in the tenant.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	statuses := make([]imap.ConnectionStatus, 0)
	for _, status := range h.manager.Status() {
		if status.TenantID == identity.TenantID {
			statuses = append(statuses, status)
		}
	}

	writeJSON(w, h.log, http.StatusOK, statuses)
}
