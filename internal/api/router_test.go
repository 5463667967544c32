package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/mailer"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_RequiresIdentity(t *testing.T) {
	router := NewRouter(testHandlers(t, nil), zerolog.Nop())

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/sync"},
		{http.MethodGet, "/api/v1/threads/abc@x"},
		{http.MethodPost, "/api/v1/emails"},
		{http.MethodGet, "/api/v1/mail-config"},
		{http.MethodGet, "/api/v1/connections"},
		{http.MethodGet, "/api/v1/ws"},
	}
	for _, route := range routes {
		rr := do(t, router, route.method, route.path, nil, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", route.method, route.path)

		rr = do(t, router, route.method, route.path, nil, testTenant, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s without user", route.method, route.path)
	}

	rr := do(t, router, http.MethodGet, "/", nil, "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSyncHandler(t *testing.T) {
	t.Run("returns per-mailbox results", func(t *testing.T) {
		syncer := &stubSyncer{results: []imap.MailboxSyncResult{
			{UserID: "u1", Mailbox: "a@x", Processed: 3, Stored: 2, Discarded: 1},
			{UserID: "u2", Mailbox: "b@x", Error: "login failed"},
		}}
		h := testHandlers(t, nil)
		h.Sync = NewSyncHandler(syncer, zerolog.Nop())
		router := NewRouter(h, zerolog.Nop())

		rr := do(t, router, http.MethodPost, "/api/v1/sync", nil, testTenant, testUser)
		require.Equal(t, http.StatusOK, rr.Code)

		response := decode[SyncResponse](t, rr)
		assert.Equal(t, 2, response.Stored)
		assert.Len(t, response.Mailboxes, 2)
		assert.Equal(t, "login failed", response.Mailboxes[1].Error)
		assert.Equal(t, []string{testTenant}, syncer.tenants)
	})

	t.Run("409 while another sync runs", func(t *testing.T) {
		h := testHandlers(t, nil)
		h.Sync = NewSyncHandler(&stubSyncer{err: imap.ErrSyncInProgress}, zerolog.Nop())

		rr := do(t, NewRouter(h, zerolog.Nop()), http.MethodPost, "/api/v1/sync", nil, testTenant, testUser)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("500 on store failure", func(t *testing.T) {
		h := testHandlers(t, nil)
		h.Sync = NewSyncHandler(&stubSyncer{err: errors.New("db down")}, zerolog.Nop())

		rr := do(t, NewRouter(h, zerolog.Nop()), http.MethodPost, "/api/v1/sync", nil, testTenant, testUser)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "db down")
	})
}

func TestSendHandler(t *testing.T) {
	newRouter := func(sender *stubSender) http.Handler {
		h := testHandlers(t, nil)
		h.Send = NewSendHandler(sender, zerolog.Nop())
		return NewRouter(h, zerolog.Nop())
	}

	t.Run("sends as the caller", func(t *testing.T) {
		sender := &stubSender{result: &mailer.SendResult{MessageID: "m1@x", Mode: models.SMTPModeFree}}
		rr := do(t, newRouter(sender), http.MethodPost, "/api/v1/emails", mailer.OutboundEmail{
			To:      []models.Address{{Email: "a@b.com"}},
			Subject: "Hi",
		}, testTenant, testUser)

		require.Equal(t, http.StatusOK, rr.Code)
		result := decode[mailer.SendResult](t, rr)
		assert.Equal(t, "m1@x", result.MessageID)
		assert.Equal(t, models.SMTPModeFree, result.Mode)
		assert.Equal(t, testTenant, sender.identity.TenantID)
		assert.Equal(t, testUser, sender.identity.UserID)
		assert.Equal(t, "Hi", sender.lastSend.Subject)
	})

	t.Run("400 without recipients", func(t *testing.T) {
		sender := &stubSender{err: mailer.ErrNoRecipients}
		rr := do(t, newRouter(sender), http.MethodPost, "/api/v1/emails", mailer.OutboundEmail{}, testTenant, testUser)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("400 on malformed body", func(t *testing.T) {
		rr := do(t, newRouter(&stubSender{}), http.MethodPost, "/api/v1/emails", "{not json", testTenant, testUser)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("502 when delivery fails", func(t *testing.T) {
		sender := &stubSender{err: errors.New("connection refused")}
		rr := do(t, newRouter(sender), http.MethodPost, "/api/v1/emails", mailer.OutboundEmail{
			To: []models.Address{{Email: "a@b.com"}},
		}, testTenant, testUser)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("bulk", func(t *testing.T) {
		sender := &stubSender{bulk: mailer.BulkResult{Sent: 1, Failed: 1, Errors: []mailer.BulkError{{Email: "x", Error: "invalid"}}}}
		router := newRouter(sender)

		rr := do(t, router, http.MethodPost, "/api/v1/emails/bulk", mailer.BulkRequest{}, testTenant, testUser)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = do(t, router, http.MethodPost, "/api/v1/emails/bulk", mailer.BulkRequest{
			Recipients: []mailer.BulkRecipient{{Email: "a@b.com"}, {Email: "x"}},
			Subject:    "Hello {{firstName}}",
		}, testTenant, testUser)
		require.Equal(t, http.StatusOK, rr.Code)

		result := decode[mailer.BulkResult](t, rr)
		assert.Equal(t, 1, result.Sent)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, "Hello {{firstName}}", sender.lastBulk.Subject)
	})
}

func TestConnectionsHandler(t *testing.T) {
	manager := newStubManager()
	manager.statuses = []imap.ConnectionStatus{
		{UserID: "u1", TenantID: testTenant, State: imap.StateListening},
		{UserID: "u2", TenantID: "other", State: imap.StateListening},
	}
	h := testHandlers(t, nil)
	h.Connections = NewConnectionsHandler(manager, zerolog.Nop())

	rr := do(t, NewRouter(h, zerolog.Nop()), http.MethodGet, "/api/v1/connections", nil, testTenant, testUser)
	require.Equal(t, http.StatusOK, rr.Code)

	statuses := decode[[]imap.ConnectionStatus](t, rr)
	require.Len(t, statuses, 1)
	assert.Equal(t, "u1", statuses[0].UserID)
}
