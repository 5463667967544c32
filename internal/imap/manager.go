package imap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/config"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// State is where a user's connection is in its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateListening    State = "listening"
	StateError        State = "error"
)

// Options tune the connection manager.
type Options struct {
	KeepaliveInterval time.Duration
	IdleRestart       time.Duration
	ReconnectDelay    time.Duration
	StartStagger      time.Duration
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	StopTimeout       time.Duration
	// InitialLookback bounds the unseen scan done right after connecting. Zero scans all unseen mail.
	InitialLookback time.Duration
	UseTLS          bool
}

// DefaultOptions returns production timings.
func DefaultOptions() Options {
	return Options{
		KeepaliveInterval: 10 * time.Second,
		IdleRestart:       5 * time.Minute,
		ReconnectDelay:    30 * time.Second,
		StartStagger:      2 * time.Second,
		ConnectTimeout:    15 * time.Second,
		CommandTimeout:    time.Minute,
		StopTimeout:       5 * time.Second,
		InitialLookback:   7 * 24 * time.Hour,
		UseTLS:            true,
	}
}

// OptionsFromConfig maps service configuration onto manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.KeepaliveInterval = cfg.KeepaliveInterval
	opts.IdleRestart = cfg.IdleRestart
	opts.ReconnectDelay = cfg.ReconnectDelay
	opts.StartStagger = cfg.StartStagger
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.CommandTimeout = cfg.CommandTimeout
	opts.InitialLookback = cfg.SyncLookback()
	opts.UseTLS = !cfg.InsecureTransport
	return opts
}

func (o Options) dialOptions() dialOptions {
	return dialOptions{
		useTLS:         o.UseTLS,
		connectTimeout: o.ConnectTimeout,
		commandTimeout: o.CommandTimeout,
		keepalive:      o.KeepaliveInterval,
	}
}

// ConnectionStatus is a point-in-time view of one user's connection.
type ConnectionStatus struct {
	UserID           string    `json:"user_id"`
	TenantID         string    `json:"tenant_id"`
	Host             string    `json:"host"`
	Username         string    `json:"username"`
	State            State     `json:"state"`
	LastError        string    `json:"last_error,omitempty"`
	Since            time.Time `json:"since"`
	ReconnectPending bool      `json:"reconnect_pending"`
}

// connection is the live or pending connection of one user.
type connection struct {
	userID   string
	tenantID string
	creds    Credentials
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	state   State
	client  *client.Client
	lastErr error
	since   time.Time
}

func (c *connection) setState(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.since = time.Now()
	if err != nil {
		c.lastErr = err
	}
}

func (c *connection) setClient(cl *client.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = cl
}

// terminate drops the socket without a LOGOUT exchange.
func (c *connection) terminate() {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl != nil {
		_ = cl.Terminate()
	}
}

func (c *connection) status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := ConnectionStatus{
		UserID:   c.userID,
		TenantID: c.tenantID,
		Host:     c.creds.Host,
		Username: c.creds.Username,
		State:    c.state,
		Since:    c.since,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

// pendingReconnect is a scheduled restart of a failed connection.
type pendingReconnect struct {
	timer    *time.Timer
	tenantID string
	creds    Credentials
	lastErr  error
	since    time.Time
}

// Manager owns at most one mailbox connection per user. Each connection runs in its own goroutine,
// listens with IDLE and reconnects on failure until stopped.
type Manager struct {
	opts     Options
	ingester Ingester
	configs  db.MailConfigStore
	vault    *crypto.Vault
	log      zerolog.Logger

	mu         sync.Mutex
	conns      map[string]*connection
	reconnects map[string]*pendingReconnect
	shutdown   atomic.Bool
}

// NewManager creates a Manager. configs and vault are only needed by StartAll.
func NewManager(opts Options, ingester Ingester, configs db.MailConfigStore, vault *crypto.Vault, log zerolog.Logger) *Manager {
	return &Manager{
		opts:       opts,
		ingester:   ingester,
		configs:    configs,
		vault:      vault,
		log:        log.With().Str("component", "imap_manager").Logger(),
		conns:      make(map[string]*connection),
		reconnects: make(map[string]*pendingReconnect),
	}
}

// StartForUser starts listening on the user's mailbox. It is a no-op, returning false, when the
// user already has a connection or the manager is shutting down. A pending reconnect is replaced
// by an immediate start.
func (m *Manager) StartForUser(userID, tenantID string, creds Credentials) bool {
	if m.shutdown.Load() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// StopAll may have drained the table between the check above and taking the lock.
	if m.shutdown.Load() {
		return false
	}
	if _, exists := m.conns[userID]; exists {
		return false
	}
	if pending, ok := m.reconnects[userID]; ok {
		pending.timer.Stop()
		delete(m.reconnects, userID)
	}

	m.startLocked(userID, tenantID, creds)
	return true
}

// startLocked creates the entry and spawns its worker. m.mu must be held.
func (m *Manager) startLocked(userID, tenantID string, creds Credentials) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		userID:   userID,
		tenantID: tenantID,
		creds:    creds,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateDisconnected,
		since:    time.Now(),
	}
	m.conns[userID] = conn

	go m.run(ctx, conn)
}

// Restart replaces the user's connection, for example after the mailbox credentials changed.
func (m *Manager) Restart(userID, tenantID string, creds Credentials) bool {
	m.StopForUser(userID)
	return m.StartForUser(userID, tenantID, creds)
}

// StopForUser cancels a pending reconnect, then closes the live connection. It is idempotent.
func (m *Manager) StopForUser(userID string) {
	m.mu.Lock()
	if pending, ok := m.reconnects[userID]; ok {
		pending.timer.Stop()
		delete(m.reconnects, userID)
	}
	conn, ok := m.conns[userID]
	if ok {
		delete(m.conns, userID)
	}
	m.mu.Unlock()

	if ok {
		m.stopConnection(conn)
	}
}

// StopAll suppresses every future reconnect and stops all connections. It always returns, even
// when a connection does not shut down cleanly.
func (m *Manager) StopAll() {
	m.shutdown.Store(true)

	m.mu.Lock()
	for userID, pending := range m.reconnects {
		pending.timer.Stop()
		delete(m.reconnects, userID)
	}
	conns := make([]*connection, 0, len(m.conns))
	for userID, conn := range m.conns {
		conns = append(conns, conn)
		delete(m.conns, userID)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *connection) {
			defer wg.Done()
			m.stopConnection(conn)
		}(conn)
	}
	wg.Wait()

	m.log.Info().Int("connections", len(conns)).Msg("all mailbox connections stopped")
}

// stopConnection cancels the worker and waits for it, force-closing the socket if it hangs.
func (m *Manager) stopConnection(conn *connection) {
	conn.cancel()

	select {
	case <-conn.done:
		return
	case <-time.After(m.opts.StopTimeout):
	}

	conn.terminate()

	select {
	case <-conn.done:
	case <-time.After(m.opts.StopTimeout):
		m.log.Warn().Str("user_id", conn.userID).Msg("connection did not stop in time, abandoning it")
	}
}

// StartAll starts a connection for every eligible mailbox, one at a time with a fixed stagger.
// Mailboxes whose password cannot be decrypted are skipped. It returns the number started.
func (m *Manager) StartAll(ctx context.Context) (int, error) {
	configs, err := m.configs.ListEligibleMailConfigs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(m.opts.StartStagger), 1)
	started := 0
	for _, cfg := range configs {
		if err := limiter.Wait(ctx); err != nil {
			return started, err
		}
		if m.shutdown.Load() {
			break
		}

		creds, err := CredentialsFromConfig(cfg, m.vault)
		if err != nil {
			m.log.Warn().Err(err).Str("user_id", cfg.UserID).Msg("skipping mailbox without usable credentials")
			continue
		}

		if m.StartForUser(cfg.UserID, cfg.TenantID, creds) {
			started++
		}
	}

	m.log.Info().Int("started", started).Int("eligible", len(configs)).Msg("mailbox connections started")
	return started, nil
}

// Status returns a snapshot of every live and pending connection, ordered by user.
func (m *Manager) Status() []ConnectionStatus {
	m.mu.Lock()
	result := make([]ConnectionStatus, 0, len(m.conns)+len(m.reconnects))
	for _, conn := range m.conns {
		result = append(result, conn.status())
	}
	for userID, pending := range m.reconnects {
		status := ConnectionStatus{
			UserID:           userID,
			TenantID:         pending.tenantID,
			Host:             pending.creds.Host,
			Username:         pending.creds.Username,
			State:            StateDisconnected,
			Since:            pending.since,
			ReconnectPending: true,
		}
		if pending.lastErr != nil {
			status.LastError = pending.lastErr.Error()
		}
		result = append(result, status)
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result
}

// run is the worker of one connection. When it ends without being stopped it schedules a reconnect.
func (m *Manager) run(ctx context.Context, conn *connection) {
	defer close(conn.done)

	log := m.log.With().Str("user_id", conn.userID).Str("tenant_id", conn.tenantID).Logger()
	log.Info().Object("mailbox", conn.creds).Msg("starting mailbox connection")

	err := m.serveSafely(ctx, conn, log)

	stopped := ctx.Err() != nil
	if err != nil && !stopped {
		conn.setState(StateError, err)
	} else {
		conn.setState(StateDisconnected, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[conn.userID] == conn {
		delete(m.conns, conn.userID)
	}

	if stopped || m.shutdown.Load() {
		log.Info().Msg("mailbox connection stopped")
		return
	}

	log.Warn().Err(err).Dur("retry_in", m.opts.ReconnectDelay).Msg("mailbox connection lost, scheduling reconnect")
	m.scheduleReconnectLocked(conn.userID, conn.tenantID, conn.creds, err)
}

func (m *Manager) serveSafely(ctx context.Context, conn *connection, log zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connection worker panicked: %v", r)
		}
	}()
	return m.serve(ctx, conn, log)
}

// scheduleReconnectLocked arms the reconnect timer. m.mu must be held.
func (m *Manager) scheduleReconnectLocked(userID, tenantID string, creds Credentials, cause error) {
	if _, exists := m.conns[userID]; exists {
		return
	}
	if old, ok := m.reconnects[userID]; ok {
		old.timer.Stop()
	}

	pending := &pendingReconnect{tenantID: tenantID, creds: creds, lastErr: cause, since: time.Now()}
	pending.timer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.fireReconnect(userID, pending)
	})
	m.reconnects[userID] = pending
}

func (m *Manager) fireReconnect(userID string, pending *pendingReconnect) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A stop or an explicit start may have replaced this timer.
	if m.reconnects[userID] != pending {
		return
	}
	delete(m.reconnects, userID)

	if m.shutdown.Load() {
		return
	}
	if _, exists := m.conns[userID]; exists {
		return
	}

	m.startLocked(userID, pending.tenantID, pending.creds)
}
