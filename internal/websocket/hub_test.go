package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHubServer upgrades every request and registers it under the tenant query parameter.
func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(r.URL.Query().Get("tenant"), conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?tenant=" + tenant
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, tenant string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ActiveConnections(tenant) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishReachesOnlyTenant(t *testing.T) {
	hub := NewHub(10, zerolog.Nop())
	server := newHubServer(t, hub)

	first := dial(t, server, "T")
	second := dial(t, server, "T")
	other := dial(t, server, "OTHER")
	waitForConnections(t, hub, "T", 2)
	waitForConnections(t, hub, "OTHER", 1)

	hub.Publish("T", "new_email", map[string]string{"message_id": "m1@x"})

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var envelope struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &envelope))
		assert.Equal(t, "new_email", envelope.Type)
		assert.Equal(t, "m1@x", envelope.Data["message_id"])
	}

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "other tenant must not receive the event")
}

func TestHub_Limit(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	server := newHubServer(t, hub)

	dial(t, server, "T")
	waitForConnections(t, hub, "T", 1)

	rejected := dial(t, server, "T")
	_ = rejected.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := rejected.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 1, hub.ActiveConnections("T"))
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(0, zerolog.Nop())
	assert.NotPanics(t, func() {
		hub.Publish("nobody", "new_email", nil)
		hub.Publish("nobody", "bad", func() {})
	})
	hub.Unregister("nobody", nil)
	assert.Equal(t, 0, hub.ActiveConnections("nobody"))
}
