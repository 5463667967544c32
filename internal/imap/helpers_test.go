package imap

import (
	"context"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/tracking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	pool      *pgxpool.Pool
	store     db.MessageStore
	configs   db.MailConfigStore
	ingestor  *tracking.Ingestor
	publisher *countingPublisher
}

type countingPublisher struct {
	count chan string
}

func (p *countingPublisher) Publish(tenantID, event string, payload any) {
	select {
	case p.count <- event:
	default:
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pool := testutil.NewTestDB(t)
	store := db.NewMessageStore(pool)
	log := zerolog.Nop()
	publisher := &countingPublisher{count: make(chan string, 100)}

	return &testEnv{
		pool:    pool,
		store:   store,
		configs: db.NewMailConfigStore(pool),
		ingestor: tracking.NewIngestor(
			tracking.NewRelevanceFilter(store, 0, log),
			tracking.NewResolver(store, log),
			store,
			publisher,
			log,
		),
		publisher: publisher,
	}
}

// recordSent stores an outbound message the tenant sent to the given address.
func (e *testEnv) recordSent(t *testing.T, tenantID, messageID, to string) {
	t.Helper()

	_, err := e.ingestor.RecordSent(context.Background(), &models.Message{
		TenantID:  tenantID,
		UserID:    "user-1",
		MessageID: messageID,
		From:      models.Address{Email: "rep@tenant.test"},
		To:        []models.Address{{Email: to}},
		Subject:   "Proposal",
		EmailType: models.EmailTypeManual,
		SentAt:    time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
}

// saveMailbox stores a verified premium config pointing at the test IMAP server.
func (e *testEnv) saveMailbox(t *testing.T, userID, tenantID string, server *testutil.TestIMAPServer, password string) {
	t.Helper()

	vault := testutil.GetTestVault(t)
	require.NoError(t, db.SaveMailConfig(context.Background(), e.pool, &models.UserMailConfig{
		UserID:       userID,
		TenantID:     tenantID,
		IsConfigured: true,
		IsPremium:    true,
		Premium: models.PremiumMailbox{
			IMAPHost:          server.Host(),
			IMAPPort:          server.Port(),
			Username:          server.Username(),
			EncryptedPassword: testutil.MustEncrypt(t, vault, password),
			FromAddress:       "rep@tenant.test",
			IsVerified:        true,
		},
	}))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.UseTLS = false
	opts.KeepaliveInterval = 200 * time.Millisecond
	opts.ReconnectDelay = 100 * time.Millisecond
	opts.StartStagger = 0
	opts.ConnectTimeout = 2 * time.Second
	opts.CommandTimeout = 5 * time.Second
	opts.StopTimeout = 2 * time.Second
	return opts
}

func serverCredentials(server *testutil.TestIMAPServer) Credentials {
	return Credentials{
		Host:     server.Host(),
		Port:     server.Port(),
		Username: server.Username(),
		Password: server.Password(),
	}
}
