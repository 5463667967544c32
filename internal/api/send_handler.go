package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/mailer"
	"github.com/rs/zerolog"
)

// Sender sends outbound mail. *mailer.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, userID, tenantID string, email mailer.OutboundEmail) (*mailer.SendResult, error)
	SendBulk(ctx context.Context, userID, tenantID string, req mailer.BulkRequest) mailer.BulkResult
}

// maxBulkRecipients caps one bulk request.
const maxBulkRecipients = 1000

// SendHandler sends mail on behalf of the caller.
type SendHandler struct {
	sender Sender
	log    zerolog.Logger
}

// NewSendHandler creates a new SendHandler instance.
func NewSendHandler(sender Sender, log zerolog.Logger) *SendHandler {
	return &SendHandler{sender: sender, log: log.With().Str("handler", "send").Logger()}
}

// Send delivers one message.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var email mailer.OutboundEmail
	if !decodeJSON(w, r, &email) {
		return
	}

	result, err := h.sender.Send(r.Context(), identity.UserID, identity.TenantID, email)
	if errors.Is(err, mailer.ErrNoRecipients) || errors.Is(err, mailer.ErrInvalidAddress) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", identity.UserID).Msg("send failed")
		http.Error(w, "Failed to send email", http.StatusBadGateway)
		return
	}

	writeJSON(w, h.log, http.StatusOK, result)
}

// SendBulk delivers a templated message to each recipient. Individual failures are reported in the body.
func (h *SendHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req mailer.BulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Recipients) == 0 {
		http.Error(w, "recipients are required", http.StatusBadRequest)
		return
	}
	if len(req.Recipients) > maxBulkRecipients {
		http.Error(w, "too many recipients", http.StatusBadRequest)
		return
	}

	result := h.sender.SendBulk(r.Context(), identity.UserID, identity.TenantID, req)
	writeJSON(w, h.log, http.StatusOK, result)
}
