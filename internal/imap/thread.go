package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// sortedUnseen returns matching UIDs ordered oldest first.
// It uses server-side SORT when the server advertises it and reports sorted=false otherwise,
// in which case the caller orders the fetched messages itself.
func sortedUnseen(c *client.Client, criteria *imap.SearchCriteria) (uids []uint32, sorted bool, err error) {
	if c == nil {
		return nil, false, fmt.Errorf("client is nil")
	}

	sortClient := sortthread.NewSortClient(c)
	supported, err := sortClient.SupportSort()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check SORT support: %w", err)
	}

	if supported {
		uids, err = sortClient.UidSort([]sortthread.SortCriterion{{Field: sortthread.SortDate}}, criteria)
		if err != nil {
			return nil, false, fmt.Errorf("SORT command returned error: %w", err)
		}
		return uids, true, nil
	}

	uids, err = c.UidSearch(criteria)
	if err != nil {
		return nil, false, fmt.Errorf("failed to search: %w", err)
	}
	return uids, false, nil
}

// sortByDate orders fetched messages by internal date, then UID.
func sortByDate(messages []*imap.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].InternalDate.Equal(messages[j].InternalDate) {
			return messages[i].Uid < messages[j].Uid
		}
		return messages[i].InternalDate.Before(messages[j].InternalDate)
	})
}

// reorder puts messages in the order of uids. Messages the server did not return are skipped.
func reorder(messages []*imap.Message, uids []uint32) []*imap.Message {
	byUID := make(map[uint32]*imap.Message, len(messages))
	for _, msg := range messages {
		byUID[msg.Uid] = msg
	}

	result := make([]*imap.Message, 0, len(messages))
	for _, uid := range uids {
		if msg, ok := byUID[uid]; ok {
			result = append(result, msg)
		}
	}
	return result
}
