package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ThreadReader returns a conversation by any of its Message-IDs. *tracking.Resolver satisfies it.
type ThreadReader interface {
	GetThread(ctx context.Context, tenantID, messageID string) ([]*models.Message, error)
}

// StatusRequest is the body of POST /api/v1/emails/{id}/status.
type StatusRequest struct {
	Status models.Status `json:"status"`
}

// MessagesHandler serves tracked messages of the caller's tenant.
type MessagesHandler struct {
	pool    *pgxpool.Pool
	threads ThreadReader
	log     zerolog.Logger
}

// NewMessagesHandler creates a new MessagesHandler instance.
func NewMessagesHandler(pool *pgxpool.Pool, threads ThreadReader, log zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{
		pool:    pool,
		threads: threads,
		log:     log.With().Str("handler", "messages").Logger(),
	}
}

// GetThread returns every message of the conversation containing {messageID}, oldest first.
func (h *MessagesHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	messageID := models.NormalizeMessageID(chi.URLParam(r, "messageID"))
	if messageID == "" {
		http.Error(w, "messageID is required", http.StatusBadRequest)
		return
	}

	messages, err := h.threads.GetThread(r.Context(), identity.TenantID, messageID)
	if errors.Is(err, db.ErrMessageNotFound) {
		http.Error(w, "Thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, h.log, err, "failed to load thread")
		return
	}

	writeJSON(w, h.log, http.StatusOK, messages)
}

// ListRelated returns messages linked to the business entity {type}/{id}, newest first.
func (h *MessagesHandler) ListRelated(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	related := models.NewRelatedEntity(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if related == nil {
		http.Error(w, "Unknown related entity", http.StatusBadRequest)
		return
	}

	messages, err := db.ListRelatedMessages(r.Context(), h.pool, identity.TenantID, *related)
	if err != nil {
		internalError(w, h.log, err, "failed to list related messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	writeJSON(w, h.log, http.StatusOK, messages)
}

// MarkRead flags the message {id} as read.
func (h *MessagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.updateMessage(w, r, db.MarkRead)
}

// MarkOpened records that the recipient opened the sent message {id}.
func (h *MessagesHandler) MarkOpened(w http.ResponseWriter, r *http.Request) {
	h.updateMessage(w, r, db.MarkOpened)
}

// Delete soft-deletes the message {id}.
func (h *MessagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.updateMessage(w, r, db.SoftDeleteMessage)
}

// UpdateStatus moves the sent message {id} to delivered, failed or bounced.
func (h *MessagesHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch req.Status {
	case models.StatusDelivered, models.StatusFailed, models.StatusBounced:
	default:
		http.Error(w, "status must be delivered, failed or bounced", http.StatusBadRequest)
		return
	}

	h.updateMessage(w, r, func(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error {
		return db.UpdateDeliveryStatus(ctx, pool, tenantID, id, req.Status)
	})
}

type messageUpdate func(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error

func (h *MessagesHandler) updateMessage(w http.ResponseWriter, r *http.Request, update messageUpdate) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	err = update(r.Context(), h.pool, identity.TenantID, id.String())
	if errors.Is(err, db.ErrMessageNotFound) {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, h.log, err, "failed to update message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
