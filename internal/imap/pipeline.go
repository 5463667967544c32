package imap

import (
	"context"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/models"
	"github.com/crmorbit-ai/crm-v1-sub004/internal/tracking"
	"github.com/emersion/go-imap"
	"github.com/rs/zerolog"
)

// Ingester stores one parsed inbound message. *tracking.Ingestor implements it.
type Ingester interface {
	Ingest(ctx context.Context, msg *models.Message) (*tracking.IngestResult, error)
}

var _ Ingester = (*tracking.Ingestor)(nil)

// batchStats counts what happened to the messages of one fetch.
type batchStats struct {
	Processed  int
	Stored     int
	Duplicates int
	Discarded  int
	Errors     int
}

func (s *batchStats) add(other batchStats) {
	s.Processed += other.Processed
	s.Stored += other.Stored
	s.Duplicates += other.Duplicates
	s.Discarded += other.Discarded
	s.Errors += other.Errors
}

// mailboxRef names whose mailbox a batch came from.
type mailboxRef struct {
	UserID   string
	TenantID string
	Folder   string
}

// ingestMessages parses and ingests each message in order. A failing message is logged and
// counted, never fatal to the batch. It returns the highest UID seen.
func ingestMessages(ctx context.Context, ingester Ingester, ref mailboxRef, messages []*imap.Message, log zerolog.Logger) (batchStats, uint32) {
	var (
		stats  batchStats
		maxUID uint32
	)

	for _, imapMsg := range messages {
		if imapMsg == nil {
			continue
		}
		if imapMsg.Uid > maxUID {
			maxUID = imapMsg.Uid
		}
		stats.Processed++

		msg, err := ParseMessage(imapMsg, ref.UserID, ref.TenantID, ref.Folder)
		if err != nil {
			stats.Errors++
			log.Warn().Err(err).Uint32("uid", imapMsg.Uid).Msg("skipping unparsable message")
			continue
		}

		result, err := ingester.Ingest(ctx, msg)
		if err != nil {
			stats.Errors++
			log.Error().Err(err).Uint32("uid", imapMsg.Uid).Str("message_id", msg.MessageID).Msg("failed to ingest message")
			continue
		}

		switch result.Outcome {
		case tracking.OutcomeStored:
			stats.Stored++
		case tracking.OutcomeDuplicate:
			stats.Duplicates++
		case tracking.OutcomeDiscarded:
			stats.Discarded++
		}
	}

	return stats, maxUID
}
