package imap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncer_SyncNow(t *testing.T) {
	env := newTestEnv(t)
	server := testutil.NewTestIMAPServer(t)
	ctx := context.Background()

	env.recordSent(t, "T", "m1@tenant.test", "a@b.com")
	env.saveMailbox(t, "user-1", "T", server, server.Password())
	env.saveMailbox(t, "user-2", "T", server, "wrong-password")
	env.saveMailbox(t, "user-3", "OTHER", server, server.Password())

	replyUID := server.AddMessage(t, testutil.TestMessage{
		MessageID: "<reply@b.com>", From: "x@y.com", To: "rep@tenant.test",
		Subject: "Re: Proposal", InReplyTo: "<m1@tenant.test>",
	})
	server.AddMessage(t, testutil.TestMessage{
		MessageID: "<noise@spam.com>", From: "news@spam.com", To: "rep@tenant.test", Subject: "Deals",
	})
	server.AddMessage(t, testutil.TestMessage{
		MessageID: "<ancient@b.com>", From: "a@b.com", To: "rep@tenant.test", Subject: "Old",
		SentAt: time.Now().Add(-30 * 24 * time.Hour),
	})

	syncer := NewSyncer(testOptions(), 7*24*time.Hour, env.ingestor, env.configs, testutil.GetTestVault(t), zerolog.Nop())

	results, err := syncer.SyncNow(ctx, "T")
	require.NoError(t, err)
	require.Len(t, results, 2)

	ok := results[0]
	assert.Equal(t, "user-1", ok.UserID)
	assert.Empty(t, ok.Error)
	assert.Equal(t, 2, ok.Processed)
	assert.Equal(t, 1, ok.Stored)
	assert.Equal(t, 1, ok.Discarded)
	assert.Equal(t, 0, ok.Errors)

	failed := results[1]
	assert.Equal(t, "user-2", failed.UserID)
	assert.NotEmpty(t, failed.Error)
	assert.NotContains(t, failed.Error, "wrong-password")

	_, err = env.store.GetMessageByMessageID(ctx, "T", "reply@b.com")
	require.NoError(t, err)
	assert.False(t, server.IsSeen(t, replyUID))

	// A second run finds the same mail and stores nothing new.
	results, err = syncer.SyncNow(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Stored)
	assert.Equal(t, 1, results[0].Duplicates)
	assert.False(t, syncer.IsRunning())
}

func TestSyncer_SingleFlight(t *testing.T) {
	env := newTestEnv(t)
	syncer := NewSyncer(testOptions(), 7*24*time.Hour, env.ingestor, env.configs, testutil.GetTestVault(t), zerolog.Nop())

	syncer.busy.Store(true)
	_, err := syncer.SyncNow(context.Background(), "T")
	assert.True(t, errors.Is(err, ErrSyncInProgress))

	syncer.busy.Store(false)
	results, err := syncer.SyncNow(context.Background(), "T")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSyncer_ConcurrentCallsNeverOverlap(t *testing.T) {
	env := newTestEnv(t)
	server := testutil.NewTestIMAPServer(t)
	env.saveMailbox(t, "user-1", "T", server, server.Password())

	syncer := NewSyncer(testOptions(), 7*24*time.Hour, env.ingestor, env.configs, testutil.GetTestVault(t), zerolog.Nop())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		busy     int
		finished int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syncer.SyncNow(context.Background(), "T")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrSyncInProgress) {
				busy++
			} else if err == nil {
				finished++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, busy+finished)
	assert.GreaterOrEqual(t, finished, 1)
}

func TestVerifyCredentials(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)

	assert.NoError(t, VerifyCredentials(serverCredentials(server), testOptions()))

	bad := serverCredentials(server)
	bad.Password = "nope"
	assert.Error(t, VerifyCredentials(bad, testOptions()))

	unreachable := Credentials{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"}
	assert.Error(t, VerifyCredentials(unreachable, testOptions()))
}

func TestProbe(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	server.AddMessage(t, testutil.TestMessage{MessageID: "<a@x>", From: "a@x", To: "b@y", Subject: "one"})
	server.AddMessage(t, testutil.TestMessage{MessageID: "<b@x>", From: "a@x", To: "b@y", Subject: "two", Seen: true})

	result, err := Probe(serverCredentials(server), testOptions())
	require.NoError(t, err)

	assert.True(t, result.SupportsIdle)
	assert.Contains(t, result.Capabilities, "IMAP4rev1")
	// The memory backend seeds INBOX with one seen message.
	assert.Equal(t, uint32(3), result.Messages)
	assert.Equal(t, 1, result.Unseen)
	assert.Greater(t, result.UidNext, uint32(6))

	bad := serverCredentials(server)
	bad.Password = "nope"
	_, err = Probe(bad, testOptions())
	assert.Error(t, err)
}
