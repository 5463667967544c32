package db

import (
	"context"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageStore is the message persistence used by threading, relevance and ingestion.
// This allows those components to be tested with mock implementations.
type MessageStore interface {
	CreateMessage(ctx context.Context, message *models.Message) (bool, error)
	GetMessageByMessageID(ctx context.Context, tenantID, messageID string) (*models.Message, error)
	MarkReplied(ctx context.Context, id string, repliedAt time.Time) error
	ListThreadMessages(ctx context.Context, tenantID, threadID string) ([]*models.Message, error)
	SentMessageExists(ctx context.Context, tenantID, messageID string) (bool, error)
	SentMessageExistsAny(ctx context.Context, tenantID string, messageIDs []string) (bool, error)
	SentToCorrespondent(ctx context.Context, tenantID, address string, since time.Time) (bool, error)
}

// MailConfigStore reads per-user mail configs.
type MailConfigStore interface {
	GetMailConfig(ctx context.Context, userID string) (*models.UserMailConfig, error)
	ListEligibleMailConfigs(ctx context.Context, tenantID string) ([]*models.UserMailConfig, error)
}

// messageStoreImpl implements MessageStore using a database pool.
type messageStoreImpl struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a MessageStore that uses the given database pool.
func NewMessageStore(pool *pgxpool.Pool) MessageStore {
	return &messageStoreImpl{pool: pool}
}

func (s *messageStoreImpl) CreateMessage(ctx context.Context, message *models.Message) (bool, error) {
	return CreateMessage(ctx, s.pool, message)
}

func (s *messageStoreImpl) GetMessageByMessageID(ctx context.Context, tenantID, messageID string) (*models.Message, error) {
	return GetMessageByMessageID(ctx, s.pool, tenantID, messageID)
}

func (s *messageStoreImpl) MarkReplied(ctx context.Context, id string, repliedAt time.Time) error {
	return MarkReplied(ctx, s.pool, id, repliedAt)
}

func (s *messageStoreImpl) ListThreadMessages(ctx context.Context, tenantID, threadID string) ([]*models.Message, error) {
	return ListThreadMessages(ctx, s.pool, tenantID, threadID)
}

func (s *messageStoreImpl) SentMessageExists(ctx context.Context, tenantID, messageID string) (bool, error) {
	return SentMessageExists(ctx, s.pool, tenantID, messageID)
}

func (s *messageStoreImpl) SentMessageExistsAny(ctx context.Context, tenantID string, messageIDs []string) (bool, error) {
	return SentMessageExistsAny(ctx, s.pool, tenantID, messageIDs)
}

func (s *messageStoreImpl) SentToCorrespondent(ctx context.Context, tenantID, address string, since time.Time) (bool, error) {
	return SentToCorrespondent(ctx, s.pool, tenantID, address, since)
}

// mailConfigStoreImpl implements MailConfigStore using a database pool.
type mailConfigStoreImpl struct {
	pool *pgxpool.Pool
}

// NewMailConfigStore creates a MailConfigStore that uses the given database pool.
func NewMailConfigStore(pool *pgxpool.Pool) MailConfigStore {
	return &mailConfigStoreImpl{pool: pool}
}

func (s *mailConfigStoreImpl) GetMailConfig(ctx context.Context, userID string) (*models.UserMailConfig, error) {
	return GetMailConfig(ctx, s.pool, userID)
}

func (s *mailConfigStoreImpl) ListEligibleMailConfigs(ctx context.Context, tenantID string) ([]*models.UserMailConfig, error) {
	return ListEligibleMailConfigs(ctx, s.pool, tenantID)
}
