// Package app wires the mail sync service together. Both the server and the dev server build on it.
package app

import (
	"fmt"
	"net/http"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/api"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/config"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/entitlement"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/imap"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/mailer"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/tracking"
	ws "github.com/crmorbit-ai/crm-v1-sub004/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// App is the wired service.
type App struct {
	Handler    http.Handler
	Manager    *imap.Manager
	Syncer     *imap.Syncer
	Dispatcher *mailer.Dispatcher
	Hub        *ws.Hub
}

// New wires every component of the service on top of pool.
func New(cfg *config.Config, pool *pgxpool.Pool, log zerolog.Logger) (*App, error) {
	vault, err := crypto.NewVault(cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}

	messages := db.NewMessageStore(pool)
	configs := db.NewMailConfigStore(pool)
	hub := ws.NewHub(0, log)

	resolver := tracking.NewResolver(messages, log)
	filter := tracking.NewRelevanceFilter(messages, cfg.RelevanceLookback(), log)
	ingestor := tracking.NewIngestor(filter, resolver, messages, hub, log)

	imapOpts := imap.OptionsFromConfig(cfg)
	manager := imap.NewManager(imapOpts, ingestor, configs, vault, log)
	syncer := imap.NewSyncer(imapOpts, cfg.SyncLookback(), ingestor, configs, vault, log)

	guard := entitlement.NewGuard(entitlement.NewPostgresChecker(pool), cfg.EntitlementTimeout, log)
	dispatcher := mailer.NewDispatcher(mailer.Options{
		Transport:    mailer.NewSMTPTransport(cfg.ConnectTimeout, cfg.CommandTimeout, cfg.InsecureTransport),
		Configs:      configs,
		Entitlements: guard,
		Vault:        vault,
		Recorder:     ingestor,
		Publisher:    hub,
		Relay: mailer.SharedRelay{
			Endpoint: mailer.Endpoint{
				Host:     cfg.SharedSMTPHost,
				Port:     cfg.SharedSMTPPort,
				Username: cfg.SharedSMTPUsername,
				Password: cfg.SharedSMTPPassword,
			},
			FromAddress: cfg.SharedFromAddress,
		},
		BulkPerSecond: cfg.BulkSendPerSecond,
	}, log)

	handlers := api.Handlers{
		Sync:        api.NewSyncHandler(syncer, log),
		Messages:    api.NewMessagesHandler(pool, resolver, log),
		Send:        api.NewSendHandler(dispatcher, log),
		MailConfig:  api.NewMailConfigHandler(pool, vault, api.NewMailboxVerifier(dispatcher, imapOpts), manager, log),
		Connections: api.NewConnectionsHandler(manager, log),
		WebSocket:   api.NewWebSocketHandler(hub, log),
	}

	return &App{
		Handler:    api.NewRouter(handlers, log),
		Manager:    manager,
		Syncer:     syncer,
		Dispatcher: dispatcher,
		Hub:        hub,
	}, nil
}
