package imap

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	inboxFolder = "INBOX"
	// fetchBatchSize caps the UIDs requested in one UID FETCH.
	fetchBatchSize = 50
)

// peekSection is BODY.PEEK[]: the whole message, without setting \Seen.
var peekSection = &imap.BodySectionName{Peek: true}

// searchUnseen returns the UIDs of unseen messages above afterUID, optionally restricted to
// messages received since the given time.
func searchUnseen(c *client.Client, since time.Time, afterUID uint32) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	criteria := unseenCriteria(since, afterUID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}

	return uidsAbove(uids, afterUID), nil
}

func unseenCriteria(since time.Time, afterUID uint32) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !since.IsZero() {
		criteria.Since = since
	}
	if afterUID > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(afterUID+1, 0)
	}
	return criteria
}

// uidsAbove drops UIDs at or below afterUID. "n:*" always matches the highest UID, even below n.
func uidsAbove(uids []uint32, afterUID uint32) []uint32 {
	result := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > afterUID {
			result = append(result, uid)
		}
	}
	return result
}

// fetchMessages fetches full messages for uids with BODY.PEEK[], so remote read state is untouched.
// Messages come back in server order; callers that need an order must sort.
func fetchMessages(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	items := []imap.FetchItem{
		peekSection.FetchItem(),
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
	}

	result := make([]*imap.Message, 0, len(uids))
	for start := 0; start < len(uids); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(uids))

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[start:end]...)

		messages := make(chan *imap.Message, end-start)
		done := make(chan error, 1)

		go func() {
			done <- c.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			result = append(result, msg)
		}

		if err := <-done; err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
	}

	return result, nil
}
