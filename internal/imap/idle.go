package imap

import (
	"context"
	"errors"
	"fmt"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
)

// errIdleEnded is returned when IDLE stops without being asked to, usually because the server
// closed the connection.
var errIdleEnded = errors.New("idle ended unexpectedly")

// serve connects, scans unseen mail once, then listens until ctx is canceled or the connection fails.
func (m *Manager) serve(ctx context.Context, conn *connection, log zerolog.Logger) error {
	conn.setState(StateConnecting, nil)

	c, err := connect(conn.creds, m.opts.dialOptions())
	if err != nil {
		return err
	}

	updates := make(chan client.Update, 32)
	newMail := make(chan struct{}, 1)
	watchDone := make(chan struct{})
	c.Updates = updates
	go watchUpdates(updates, newMail, watchDone)

	// Runs after the client is closed so the reader never blocks on a full updates channel.
	defer close(watchDone)
	defer func() {
		conn.setClient(nil)
		closeClient(c, m.opts.StopTimeout)
	}()
	conn.setClient(c)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Read-write, as for any interactive client. Fetches still use BODY.PEEK[].
	mbox, err := c.Select(inboxFolder, false)
	if err != nil {
		return fmt.Errorf("failed to select %s: %w", inboxFolder, err)
	}
	conn.setState(StateReady, nil)

	ref := mailboxRef{UserID: conn.userID, TenantID: conn.tenantID, Folder: inboxFolder}

	var since time.Time
	if m.opts.InitialLookback > 0 {
		since = time.Now().Add(-m.opts.InitialLookback)
	}
	watermark, err := m.scanUnseen(ctx, c, ref, since, 0, log)
	if err != nil {
		return err
	}
	if mbox.UidNext > 0 && mbox.UidNext-1 > watermark {
		watermark = mbox.UidNext - 1
	}

	// Anything signaled during the initial scan is already covered by it.
	select {
	case <-newMail:
	default:
	}

	conn.setState(StateListening, nil)
	log.Info().Uint32("watermark", watermark).Msg("listening for new mail")

	return m.listen(ctx, c, ref, watermark, newMail, log)
}

// listen idles until new mail is signaled, scans it, and idles again. IDLE is re-issued every
// IdleRestart; servers without IDLE are polled with NOOP every KeepaliveInterval.
// Every KeepaliveInterval the listener also leaves IDLE, sends NOOP and looks for mail above the
// watermark, so a dead connection is noticed and servers that never push EXISTS still deliver.
func (m *Manager) listen(ctx context.Context, c *client.Client, ref mailboxRef, watermark uint32, newMail <-chan struct{}, log zerolog.Logger) error {
	idleClient := idle.NewClient(c)
	idleClient.LogoutTimeout = m.opts.IdleRestart

	var keepalive <-chan time.Time
	if m.opts.KeepaliveInterval > 0 {
		ticker := time.NewTicker(m.opts.KeepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		// IDLE must not inherit the per-command deadline.
		c.Timeout = 0

		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- idleClient.IdleWithFallback(stop, m.opts.KeepaliveInterval)
		}()

		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return ctx.Err()
		case err := <-done:
			if err == nil {
				err = errIdleEnded
			}
			return fmt.Errorf("idle failed: %w", err)
		case <-c.LoggedOut():
			close(stop)
			<-done
			return errIdleEnded
		case <-keepalive:
			close(stop)
			if err := <-done; err != nil {
				return fmt.Errorf("failed to leave idle: %w", err)
			}
			c.Timeout = m.opts.CommandTimeout
			if err := c.Noop(); err != nil {
				return fmt.Errorf("keepalive failed: %w", err)
			}
		case <-newMail:
			close(stop)
			if err := <-done; err != nil {
				return fmt.Errorf("failed to leave idle: %w", err)
			}
		}

		c.Timeout = m.opts.CommandTimeout
		next, err := m.scanUnseen(ctx, c, ref, time.Time{}, watermark, log)
		if err != nil {
			return err
		}
		watermark = next
	}
}

// scanUnseen fetches unseen messages above afterUID and runs them through ingestion.
// It returns the new watermark.
func (m *Manager) scanUnseen(ctx context.Context, c *client.Client, ref mailboxRef, since time.Time, afterUID uint32, log zerolog.Logger) (uint32, error) {
	uids, err := searchUnseen(c, since, afterUID)
	if err != nil {
		return afterUID, err
	}
	if len(uids) == 0 {
		return afterUID, nil
	}

	messages, err := fetchMessages(c, uids)
	if err != nil {
		return afterUID, err
	}

	stats, maxUID := ingestMessages(ctx, m.ingester, ref, reorder(messages, uids), log)
	log.Info().
		Int("processed", stats.Processed).
		Int("stored", stats.Stored).
		Int("duplicates", stats.Duplicates).
		Int("discarded", stats.Discarded).
		Int("errors", stats.Errors).
		Msg("scanned new mail")

	return max(afterUID, maxUID), nil
}

// watchUpdates turns mailbox updates into a coalesced new-mail signal until done is closed.
func watchUpdates(updates <-chan client.Update, newMail chan<- struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case update := <-updates:
			mboxUpdate, ok := update.(*client.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Messages == 0 {
				continue
			}
			select {
			case newMail <- struct{}{}:
			default:
			}
		}
	}
}
