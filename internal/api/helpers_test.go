package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/auth"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/mailer"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	ws "github.com/crmorbit-ai/crm-v1-sub004/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testTenant = "tenant-1"
	testUser   = "user-1"
)

type stubSyncer struct {
	results []imap.MailboxSyncResult
	err     error
	tenants []string
}

func (s *stubSyncer) SyncNow(_ context.Context, tenantID string) ([]imap.MailboxSyncResult, error) {
	s.tenants = append(s.tenants, tenantID)
	return s.results, s.err
}

type stubSender struct {
	result   *mailer.SendResult
	err      error
	bulk     mailer.BulkResult
	lastSend mailer.OutboundEmail
	lastBulk mailer.BulkRequest
	identity auth.Identity
}

func (s *stubSender) Send(_ context.Context, userID, tenantID string, email mailer.OutboundEmail) (*mailer.SendResult, error) {
	s.identity = auth.Identity{TenantID: tenantID, UserID: userID}
	s.lastSend = email
	return s.result, s.err
}

func (s *stubSender) SendBulk(_ context.Context, userID, tenantID string, req mailer.BulkRequest) mailer.BulkResult {
	s.identity = auth.Identity{TenantID: tenantID, UserID: userID}
	s.lastBulk = req
	return s.bulk
}

type stubManager struct {
	mu        sync.Mutex
	statuses  []imap.ConnectionStatus
	restarted map[string]imap.Credentials
	stopped   []string
}

func newStubManager() *stubManager {
	return &stubManager{restarted: make(map[string]imap.Credentials)}
}

func (m *stubManager) Restart(userID, _ string, creds imap.Credentials) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarted[userID] = creds
	return true
}

func (m *stubManager) StopForUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, userID)
}

func (m *stubManager) Status() []imap.ConnectionStatus {
	return m.statuses
}

type stubVerifier struct {
	smtpErr error
	imapErr error
	calls   int
}

func (v *stubVerifier) VerifySMTP(context.Context, string, int, string, string) error {
	v.calls++
	return v.smtpErr
}

func (v *stubVerifier) VerifyIMAP(context.Context, imap.Credentials) error {
	v.calls++
	return v.imapErr
}

type stubThreads struct{}

func (stubThreads) GetThread(context.Context, string, string) ([]*models.Message, error) {
	return nil, nil
}

// testHandlers returns a full handler set. Handlers that need a pool use the given one.
func testHandlers(t *testing.T, pool *pgxpool.Pool) Handlers {
	t.Helper()
	log := zerolog.Nop()
	return Handlers{
		Sync:        NewSyncHandler(&stubSyncer{}, log),
		Messages:    NewMessagesHandler(pool, stubThreads{}, log),
		Send:        NewSendHandler(&stubSender{}, log),
		MailConfig:  NewMailConfigHandler(pool, nil, &stubVerifier{}, newStubManager(), log),
		Connections: NewConnectionsHandler(newStubManager(), log),
		WebSocket:   NewWebSocketHandler(ws.NewHub(0, log), log),
	}
}

// do sends a request through the router with the identity headers of tenant and user.
func do(t *testing.T, handler http.Handler, method, path string, body any, tenant, user string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set(auth.TenantHeader, tenant)
	}
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}
