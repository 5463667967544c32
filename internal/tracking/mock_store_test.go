package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/stretchr/testify/mock"
)

// mockMessageStore is a mock implementation of db.MessageStore for testing.
type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) CreateMessage(ctx context.Context, message *models.Message) (bool, error) {
	args := m.Called(ctx, message)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageStore) GetMessageByMessageID(ctx context.Context, tenantID, messageID string) (*models.Message, error) {
	args := m.Called(ctx, tenantID, messageID)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockMessageStore) MarkReplied(ctx context.Context, id string, repliedAt time.Time) error {
	args := m.Called(ctx, id, repliedAt)
	return args.Error(0)
}

func (m *mockMessageStore) ListThreadMessages(ctx context.Context, tenantID, threadID string) ([]*models.Message, error) {
	args := m.Called(ctx, tenantID, threadID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockMessageStore) SentMessageExists(ctx context.Context, tenantID, messageID string) (bool, error) {
	args := m.Called(ctx, tenantID, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageStore) SentMessageExistsAny(ctx context.Context, tenantID string, messageIDs []string) (bool, error) {
	args := m.Called(ctx, tenantID, messageIDs)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageStore) SentToCorrespondent(ctx context.Context, tenantID, address string, since time.Time) (bool, error) {
	args := m.Called(ctx, tenantID, address, since)
	return args.Bool(0), args.Error(1)
}

type publishedEvent struct {
	TenantID string
	Event    string
	Payload  any
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(tenantID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{TenantID: tenantID, Event: event, Payload: payload})
}

func (p *recordingPublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}
