package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/rs/zerolog"
)

// Syncer runs a manual sync. *imap.Syncer satisfies it.
type Syncer interface {
	SyncNow(ctx context.Context, tenantID string) ([]imap.MailboxSyncResult, error)
}

// SyncResponse is the body of POST /api/v1/sync.
type SyncResponse struct {
	Mailboxes []imap.MailboxSyncResult `json:"mailboxes"`
	Stored    int                      `json:"stored"`
}

// SyncHandler triggers manual mailbox syncs.
type SyncHandler struct {
	syncer Syncer
	log    zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(syncer Syncer, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, log: log.With().Str("handler", "sync").Logger()}
}

// Sync scans the caller's tenant mailboxes now. It answers 409 while another sync runs.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	results, err := h.syncer.SyncNow(r.Context(), identity.TenantID)
	if errors.Is(err, imap.ErrSyncInProgress) {
		http.Error(w, "Sync already in progress", http.StatusConflict)
		return
	}
	if err != nil {
		internalError(w, h.log, err, "manual sync failed")
		return
	}

	response := SyncResponse{Mailboxes: results}
	if response.Mailboxes == nil {
		response.Mailboxes = []imap.MailboxSyncResult{}
	}
	for _, result := range results {
		response.Stored += result.Stored
	}

	writeJSON(w, h.log, http.StatusOK, response)
}
