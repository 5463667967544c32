// Package tracking turns raw messages into tracked conversations.
// It decides which inbound mail matters, which thread a message joins, and stores the result.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/rs/zerolog"
)

// Resolver assigns messages to threads.
type Resolver struct {
	store db.MessageStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store db.MessageStore, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   log.With().Str("component", "thread_resolver").Logger(),
		now:   time.Now,
	}
}

// ResolveThread sets msg.ThreadID and returns it.
//
// A message without In-Reply-To starts its own thread. A reply whose parent is known joins the
// parent's thread, inherits the parent's related entity when it has none, and marks the parent
// replied. An unknown parent degrades to a new thread rather than an error.
func (r *Resolver) ResolveThread(ctx context.Context, msg *models.Message) (string, error) {
	if msg.MessageID == "" {
		return "", errors.New("message has no message id")
	}

	msg.ThreadID = msg.MessageID
	if !msg.HasParent() {
		return msg.ThreadID, nil
	}

	parent, err := r.store.GetMessageByMessageID(ctx, msg.TenantID, *msg.InReplyTo)
	if err != nil {
		if !errors.Is(err, db.ErrMessageNotFound) {
			r.log.Warn().Err(err).
				Str("message_id", msg.MessageID).
				Str("in_reply_to", *msg.InReplyTo).
				Msg("parent lookup failed, starting new thread")
		}
		return msg.ThreadID, nil
	}

	if parent.ThreadID != "" {
		msg.ThreadID = parent.ThreadID
	}
	if msg.RelatedTo == nil && parent.RelatedTo != nil {
		related := *parent.RelatedTo
		msg.RelatedTo = &related
	}

	if err := r.store.MarkReplied(ctx, parent.ID, r.now()); err != nil {
		r.log.Warn().Err(err).Str("parent_id", parent.ID).Msg("failed to mark parent replied")
	}

	return msg.ThreadID, nil
}

// GetThread returns the non-deleted messages of the thread containing messageID, oldest first.
func (r *Resolver) GetThread(ctx context.Context, tenantID, messageID string) ([]*models.Message, error) {
	msg, err := r.store.GetMessageByMessageID(ctx, tenantID, models.NormalizeMessageID(messageID))
	if err != nil {
		return nil, err
	}

	messages, err := r.store.ListThreadMessages(ctx, tenantID, msg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread: %w", err)
	}
	return messages, nil
}
