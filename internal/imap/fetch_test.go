package imap

import (
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/testutil"
	"github.com/emersion/go-imap"
)

func TestUidsAbove(t *testing.T) {
	got := uidsAbove([]uint32{3, 7, 9}, 7)
	if len(got) != 1 || got[0] != 9 {
		t.Errorf("Expected [9], got %v", got)
	}

	// "n:*" matches the highest UID even when it is below n.
	got = uidsAbove([]uint32{5}, 7)
	if len(got) != 0 {
		t.Errorf("Expected no UIDs, got %v", got)
	}
}

func TestUnseenCriteria(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	criteria := unseenCriteria(since, 10)

	if len(criteria.WithoutFlags) != 1 || criteria.WithoutFlags[0] != imap.SeenFlag {
		t.Errorf("Expected UNSEEN criteria, got %v", criteria.WithoutFlags)
	}
	if !criteria.Since.Equal(since) {
		t.Errorf("Expected SINCE %v, got %v", since, criteria.Since)
	}
	if criteria.Uid == nil || !criteria.Uid.Contains(11) || criteria.Uid.Contains(10) {
		t.Errorf("Expected UID 11:*, got %v", criteria.Uid)
	}

	if criteria := unseenCriteria(time.Time{}, 0); criteria.Uid != nil || !criteria.Since.IsZero() {
		t.Error("Expected no UID or date bound")
	}
}

func TestFetchMessages(t *testing.T) {
	t.Run("returns error for nil client", func(t *testing.T) {
		_, err := fetchMessages(nil, []uint32{1, 2, 3})
		if err == nil || err.Error() != "client is nil" {
			t.Errorf("Expected error 'client is nil', got: %v", err)
		}
	})

	t.Run("fetches unseen messages without marking them seen", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)

		seenUID := server.AddMessage(t, testutil.TestMessage{
			MessageID: "<seen@example.com>", From: "a@b.com", To: "rep@tenant.test", Subject: "Old", Seen: true,
		})
		unseenUID := server.AddMessage(t, testutil.TestMessage{
			MessageID: "<unseen@example.com>", From: "a@b.com", To: "rep@tenant.test", Subject: "New",
		})

		client, cleanup := server.Connect(t)
		defer cleanup()

		if _, err := client.Select("INBOX", false); err != nil {
			t.Fatalf("Failed to select INBOX: %v", err)
		}

		uids, err := searchUnseen(client, time.Time{}, 0)
		if err != nil {
			t.Fatalf("searchUnseen failed: %v", err)
		}
		for _, uid := range uids {
			if uid == seenUID {
				t.Errorf("Seen message %d returned by unseen search", seenUID)
			}
		}

		messages, err := fetchMessages(client, []uint32{unseenUID})
		if err != nil {
			t.Fatalf("fetchMessages failed: %v", err)
		}
		if len(messages) != 1 {
			t.Fatalf("Expected 1 message, got %d", len(messages))
		}
		if messages[0].GetBody(peekSection) == nil {
			t.Error("Expected message body")
		}

		if server.IsSeen(t, unseenUID) {
			t.Error("Fetching must not set \\Seen")
		}
	})

	t.Run("watermark skips old messages", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		first := server.AddMessage(t, testutil.TestMessage{MessageID: "<w1@example.com>", From: "a@b.com", To: "r@t"})
		second := server.AddMessage(t, testutil.TestMessage{MessageID: "<w2@example.com>", From: "a@b.com", To: "r@t"})

		client, cleanup := server.Connect(t)
		defer cleanup()
		if _, err := client.Select("INBOX", false); err != nil {
			t.Fatalf("Failed to select INBOX: %v", err)
		}

		uids, err := searchUnseen(client, time.Time{}, first)
		if err != nil {
			t.Fatalf("searchUnseen failed: %v", err)
		}
		if len(uids) != 1 || uids[0] != second {
			t.Errorf("Expected only UID %d, got %v", second, uids)
		}
	})
}

func TestSortByDate(t *testing.T) {
	now := time.Now()
	messages := []*imap.Message{
		{Uid: 3, InternalDate: now},
		{Uid: 1, InternalDate: now.Add(-time.Hour)},
		{Uid: 2, InternalDate: now},
	}
	sortByDate(messages)

	if messages[0].Uid != 1 || messages[1].Uid != 2 || messages[2].Uid != 3 {
		t.Errorf("Unexpected order: %d %d %d", messages[0].Uid, messages[1].Uid, messages[2].Uid)
	}
}

func TestReorder(t *testing.T) {
	messages := []*imap.Message{{Uid: 5}, {Uid: 2}}
	got := reorder(messages, []uint32{2, 9, 5})

	if len(got) != 2 || got[0].Uid != 2 || got[1].Uid != 5 {
		t.Errorf("Unexpected order: %v", got)
	}
}
