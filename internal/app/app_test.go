package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/auth"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/config"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestConfig(smtp *testutil.TestSMTPServer) *config.Config {
	return &config.Config{
		Environment:           "test",
		EncryptionSecret:      testutil.TestEncryptionSecret,
		SharedSMTPHost:        smtp.Host(),
		SharedSMTPPort:        smtp.Port(),
		SharedSMTPUsername:    smtp.Username(),
		SharedSMTPPassword:    smtp.Password(),
		SharedFromAddress:     "noreply@relay.test",
		KeepaliveInterval:     time.Second,
		IdleRestart:           time.Minute,
		ReconnectDelay:        time.Hour,
		ConnectTimeout:        2 * time.Second,
		CommandTimeout:        5 * time.Second,
		SyncLookbackDays:      7,
		RelevanceLookbackDays: 365,
		BulkSendPerSecond:     100,
		EntitlementTimeout:    time.Second,
		InsecureTransport:     true,
	}
}

func TestNew(t *testing.T) {
	pool := testutil.NewTestDB(t)
	smtp := testutil.NewTestSMTPServer(t)
	imapServer := testutil.NewTestIMAPServer(t)
	vault := testutil.GetTestVault(t)
	ctx := context.Background()

	require.NoError(t, db.SaveMailConfig(ctx, pool, &models.UserMailConfig{
		UserID:       "user-1",
		TenantID:     "T",
		DisplayName:  "Jane Rep",
		IsConfigured: true,
		IsPremium:    true,
		Premium: models.PremiumMailbox{
			SMTPHost:          smtp.Host(),
			SMTPPort:          smtp.Port(),
			IMAPHost:          imapServer.Host(),
			IMAPPort:          imapServer.Port(),
			Username:          imapServer.Username(),
			EncryptedPassword: testutil.MustEncrypt(t, vault, imapServer.Password()),
			FromAddress:       "jane@tenant.test",
			IsVerified:        true,
		},
	}))

	service, err := New(getTestConfig(smtp), pool, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(service.Manager.StopAll)

	server := httptest.NewServer(service.Handler)
	t.Cleanup(server.Close)

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "mailsync is running")
	})

	t.Run("api requires identity", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/v1/sync", "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("manual sync reaches the mailbox", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/sync", nil)
		require.NoError(t, err)
		req.Header.Set(auth.TenantHeader, "T")
		req.Header.Set(auth.UserHeader, "user-1")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"user_id":"user-1"`)
		assert.NotContains(t, string(body), `"error"`)
	})

	t.Run("start all connects the premium mailbox", func(t *testing.T) {
		started, err := service.Manager.StartAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, started)
	})
}
