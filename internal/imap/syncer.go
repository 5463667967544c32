package imap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/crypto"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/db"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSyncInProgress is returned when a manual sync is requested while another one runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// maxParallelMailboxes caps how many mailboxes one sync run reads at once.
const maxParallelMailboxes = 4

// MailboxSyncResult reports one mailbox of a manual sync.
type MailboxSyncResult struct {
	UserID     string `json:"user_id"`
	Mailbox    string `json:"mailbox"`
	Processed  int    `json:"processed"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Discarded  int    `json:"discarded"`
	Errors     int    `json:"errors"`
	Error      string `json:"error,omitempty"`
}

// Syncer re-scans a tenant's mailboxes on demand, without a persistent connection.
// Only one sync runs at a time across all tenants.
type Syncer struct {
	opts     Options
	lookback time.Duration
	ingester Ingester
	configs  db.MailConfigStore
	vault    *crypto.Vault
	log      zerolog.Logger
	busy     atomic.Bool
}

// NewSyncer creates a Syncer that looks back over the given window for unseen mail.
func NewSyncer(opts Options, lookback time.Duration, ingester Ingester, configs db.MailConfigStore, vault *crypto.Vault, log zerolog.Logger) *Syncer {
	return &Syncer{
		opts:     opts,
		lookback: lookback,
		ingester: ingester,
		configs:  configs,
		vault:    vault,
		log:      log.With().Str("component", "imap_syncer").Logger(),
	}
}

// SyncNow scans every eligible mailbox of the tenant for recent unseen mail.
// A failing mailbox is reported in its result and never stops the others.
func (s *Syncer) SyncNow(ctx context.Context, tenantID string) ([]MailboxSyncResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.busy.Store(false)

	configs, err := s.configs.ListEligibleMailConfigs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	since := time.Now().Add(-s.lookback)
	results := make([]MailboxSyncResult, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelMailboxes)
	for i, cfg := range configs {
		results[i] = MailboxSyncResult{UserID: cfg.UserID, Mailbox: cfg.Premium.Username}

		creds, err := CredentialsFromConfig(cfg, s.vault)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}

		g.Go(func() error {
			ref := mailboxRef{UserID: cfg.UserID, TenantID: cfg.TenantID, Folder: inboxFolder}
			stats, err := s.syncMailbox(gctx, creds, ref, since)
			results[i].Processed = stats.Processed
			results[i].Stored = stats.Stored
			results[i].Duplicates = stats.Duplicates
			results[i].Discarded = stats.Discarded
			results[i].Errors = stats.Errors
			if err != nil {
				results[i].Error = err.Error()
				s.log.Warn().Err(err).Str("user_id", cfg.UserID).Msg("mailbox sync failed")
			}
			// Mailbox failures are reported per result, not through the group.
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().Str("tenant_id", tenantID).Int("mailboxes", len(results)).Msg("manual sync finished")
	return results, nil
}

// IsRunning reports whether a sync is in flight.
func (s *Syncer) IsRunning() bool {
	return s.busy.Load()
}

// syncMailbox runs one bounded connect, search, fetch, ingest, logout cycle.
func (s *Syncer) syncMailbox(ctx context.Context, creds Credentials, ref mailboxRef, since time.Time) (batchStats, error) {
	var stats batchStats

	c, err := connect(creds, s.opts.dialOptions())
	if err != nil {
		return stats, err
	}
	defer closeClient(c, s.opts.StopTimeout)

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	// Read-only, so the sync cannot change flags even by accident.
	if _, err := c.Select(ref.Folder, true); err != nil {
		return stats, fmt.Errorf("failed to examine %s: %w", ref.Folder, err)
	}

	uids, sorted, err := sortedUnseen(c, unseenCriteria(since, 0))
	if err != nil {
		return stats, err
	}
	if len(uids) == 0 {
		return stats, nil
	}

	messages, err := fetchMessages(c, uids)
	if err != nil {
		return stats, err
	}
	if sorted {
		messages = reorder(messages, uids)
	} else {
		sortByDate(messages)
	}

	log := s.log.With().Str("user_id", ref.UserID).Logger()
	stats, _ = ingestMessages(ctx, s.ingester, ref, messages, log)
	return stats, nil
}

