package tracking

import (
	"context"
	"fmt"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/events"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/rs/zerolog"
)

// Outcome is what happened to one ingested message.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDiscarded Outcome = "discarded"
)

// IngestResult reports the outcome of Ingest for one message.
type IngestResult struct {
	Outcome  Outcome
	Decision Decision
	Message  *models.Message
}

// NewEmailEvent is the payload published for every stored inbound message.
type NewEmailEvent struct {
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	MessageID string                `json:"message_id"`
	ThreadID  string                `json:"thread_id"`
	From      models.Address        `json:"from"`
	Subject   string                `json:"subject"`
	Folder    string                `json:"folder,omitempty"`
	RelatedTo *models.RelatedEntity `json:"related_to,omitempty"`
}

// Ingestor runs an inbound message through filter, resolver and store, then publishes it.
type Ingestor struct {
	filter    *RelevanceFilter
	resolver  *Resolver
	store     db.MessageStore
	publisher events.Publisher
	log       zerolog.Logger
}

// NewIngestor wires the inbound pipeline.
func NewIngestor(filter *RelevanceFilter, resolver *Resolver, store db.MessageStore, publisher events.Publisher, log zerolog.Logger) *Ingestor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Ingestor{
		filter:    filter,
		resolver:  resolver,
		store:     store,
		publisher: publisher,
		log:       log.With().Str("component", "ingestor").Logger(),
	}
}

// Ingest processes one parsed inbound message. Only persistence errors are returned.
func (i *Ingestor) Ingest(ctx context.Context, msg *models.Message) (*IngestResult, error) {
	msg.Direction = models.DirectionReceived
	msg.Status = models.StatusReceived
	if msg.EmailType == "" {
		msg.EmailType = models.EmailTypeOther
		if msg.HasParent() {
			msg.EmailType = models.EmailTypeReply
		}
	}

	var inReplyTo string
	if msg.InReplyTo != nil {
		inReplyTo = *msg.InReplyTo
	}

	decision := i.filter.IsRelevant(ctx, msg.From.Email, inReplyTo, msg.References, msg.TenantID)
	if !decision.Relevant {
		i.log.Debug().
			Str("tenant_id", msg.TenantID).
			Str("message_id", msg.MessageID).
			Str("reason", decision.Reason).
			Msg("discarding unrelated message")
		return &IngestResult{Outcome: OutcomeDiscarded, Decision: decision, Message: msg}, nil
	}

	// Idempotent re-ingestion must not mark the parent replied a second time.
	existing, err := i.store.GetMessageByMessageID(ctx, msg.TenantID, msg.MessageID)
	if err == nil {
		return &IngestResult{Outcome: OutcomeDuplicate, Decision: decision, Message: existing}, nil
	}

	if _, err := i.resolver.ResolveThread(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to resolve thread: %w", err)
	}

	created, err := i.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	if !created {
		return &IngestResult{Outcome: OutcomeDuplicate, Decision: decision, Message: msg}, nil
	}

	i.log.Info().
		Str("tenant_id", msg.TenantID).
		Str("message_id", msg.MessageID).
		Str("thread_id", msg.ThreadID).
		Str("rule", string(decision.Rule)).
		Msg("tracked inbound message")

	event := NewEmailEvent{
		ID:        msg.ID,
		UserID:    msg.UserID,
		MessageID: msg.MessageID,
		ThreadID:  msg.ThreadID,
		From:      msg.From,
		Subject:   msg.Subject,
		RelatedTo: msg.RelatedTo,
	}
	if msg.IMAPFolder != nil {
		event.Folder = *msg.IMAPFolder
	}
	i.publisher.Publish(msg.TenantID, events.NewEmail, event)

	return &IngestResult{Outcome: OutcomeStored, Decision: decision, Message: msg}, nil
}

// RecordSent threads and stores an outbound message. It reports whether a new row was written.
func (i *Ingestor) RecordSent(ctx context.Context, msg *models.Message) (bool, error) {
	msg.Direction = models.DirectionSent
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if _, err := i.resolver.ResolveThread(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to resolve thread: %w", err)
	}
	created, err := i.store.CreateMessage(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("failed to store message: %w", err)
	}
	return created, nil
}
