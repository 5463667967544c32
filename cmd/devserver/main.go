// Command devserver runs the full service against a throwaway Postgres container and in-memory
// IMAP and SMTP servers, with one premium mailbox already configured. It is meant for local and E2E testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/app"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/config"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/entitlement"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/logging"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	devTenantID   = "dev-tenant"
	devUserID     = "dev-user"
	devSecret     = "dev-secret-do-not-use-in-production"
	relayUser     = "relay"
	relayPassword = "relay-pass"
)

func main() {
	log := logging.New("development", "debug")

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("dev server failed")
	}
}

func run(log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("starting Postgres container")
	pool, cleanup, err := testutil.StartPostgres(ctx)
	if err != nil {
		return fmt.Errorf("failed to start Postgres: %w", err)
	}
	defer cleanup()

	imapServer, err := testutil.StartIMAPServer("127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start IMAP server: %w", err)
	}
	defer imapServer.Close()

	relay, err := testutil.StartSMTPServer("127.0.0.1:0", relayUser, relayPassword)
	if err != nil {
		return fmt.Errorf("failed to start relay SMTP server: %w", err)
	}
	defer relay.Close()

	// The premium mailbox shares its login with the IMAP server.
	premiumSMTP, err := testutil.StartSMTPServer("127.0.0.1:0", imapServer.Username(), imapServer.Password())
	if err != nil {
		return fmt.Errorf("failed to start premium SMTP server: %w", err)
	}
	defer premiumSMTP.Close()

	log.Info().
		Str("imap", imapServer.Address).
		Str("relay_smtp", relay.Address).
		Str("premium_smtp", premiumSMTP.Address).
		Msg("mail servers started")

	cfg := devConfig(relay)
	if err := seed(ctx, pool, cfg, imapServer, premiumSMTP); err != nil {
		return err
	}
	log.Info().Str("tenant_id", devTenantID).Str("user_id", devUserID).Msg("premium mailbox seeded")

	if err := seedInbox(imapServer); err != nil {
		return err
	}

	service, err := app.New(cfg, pool, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer service.Manager.StopAll()

	if _, err := service.Manager.StartAll(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to start mailbox connections")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           service.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("dev server ready, press Ctrl+C to stop")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func devConfig(relay *testutil.TestSMTPServer) *config.Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "11764"
	}

	return &config.Config{
		Environment:           "development",
		LogLevel:              "debug",
		EncryptionSecret:      devSecret,
		Port:                  port,
		SharedSMTPHost:        relay.Host(),
		SharedSMTPPort:        relay.Port(),
		SharedSMTPUsername:    relay.Username(),
		SharedSMTPPassword:    relay.Password(),
		SharedFromAddress:     "noreply@relay.localhost",
		KeepaliveInterval:     10 * time.Second,
		IdleRestart:           5 * time.Minute,
		ReconnectDelay:        30 * time.Second,
		StartStagger:          100 * time.Millisecond,
		ConnectTimeout:        5 * time.Second,
		CommandTimeout:        30 * time.Second,
		SyncLookbackDays:      7,
		RelevanceLookbackDays: 365,
		BulkSendPerSecond:     10,
		EntitlementTimeout:    time.Second,
		InsecureTransport:     true,
	}
}

// seed stores a verified premium mailbox for the dev user and grants the tenant the entitlement.
func seed(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	vault, err := crypto.NewVault(cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	encrypted, err := vault.Encrypt(imapServer.Password())
	if err != nil {
		return fmt.Errorf("failed to encrypt mailbox password: %w", err)
	}

	if err := db.SaveEntitlement(ctx, pool, devTenantID, entitlement.PremiumMailboxProduct, true, nil); err != nil {
		return err
	}

	return db.SaveMailConfig(ctx, pool, &models.UserMailConfig{
		UserID:       devUserID,
		TenantID:     devTenantID,
		DisplayName:  "Dev User",
		Signature:    "Dev User\nSales",
		IsConfigured: true,
		IsPremium:    true,
		Premium: models.PremiumMailbox{
			SMTPHost:          smtpServer.Host(),
			SMTPPort:          smtpServer.Port(),
			IMAPHost:          imapServer.Host(),
			IMAPPort:          imapServer.Port(),
			Username:          imapServer.Username(),
			EncryptedPassword: encrypted,
			FromAddress:       "dev@premium.localhost",
			IsVerified:        true,
		},
	})
}

// seedInbox puts a few unseen messages in INBOX. None of them relate to sent mail until the
// dev user sends something and the correspondent writes back.
func seedInbox(imapServer *testutil.TestIMAPServer) error {
	now := time.Now()
	messages := []testutil.TestMessage{
		{
			MessageID: "<welcome@dev.localhost>",
			From:      "newsletter@example.com",
			To:        "dev@premium.localhost",
			Subject:   "Welcome",
			Body:      "Unrelated newsletter, the relevance filter drops it.",
			SentAt:    now.Add(-2 * time.Hour),
		},
		{
			MessageID: "<report@dev.localhost>",
			From:      "reports@example.com",
			To:        "dev@premium.localhost",
			Subject:   "Q3 report",
			Body:      "Here is the Q3 report.",
			SentAt:    now.Add(-time.Hour),
		},
	}

	for _, msg := range messages {
		if _, err := imapServer.Append(msg); err != nil {
			return fmt.Errorf("failed to seed %s: %w", msg.MessageID, err)
		}
	}
	return nil
}
