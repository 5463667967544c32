package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	sortthread "github.com/emersion/go-imap-sortthread"
)

// ProbeResult describes what a mailbox server offers.
type ProbeResult struct {
	Capabilities []string
	SupportsIdle bool
	SupportsSort bool
	Messages     uint32
	Unseen       int
	UidNext      uint32
}

// Probe logs in, reads the server capabilities and examines INBOX, then logs out.
func Probe(creds Credentials, opts Options) (*ProbeResult, error) {
	c, err := connect(creds, opts.dialOptions())
	if err != nil {
		return nil, err
	}
	defer closeClient(c, opts.StopTimeout)

	caps, err := c.Capability()
	if err != nil {
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}

	result := &ProbeResult{}
	for capability := range caps {
		result.Capabilities = append(result.Capabilities, capability)
	}
	sort.Strings(result.Capabilities)

	if result.SupportsIdle, err = idle.NewClient(c).SupportIdle(); err != nil {
		return nil, fmt.Errorf("failed to check IDLE support: %w", err)
	}
	if result.SupportsSort, err = sortthread.NewSortClient(c).SupportSort(); err != nil {
		return nil, fmt.Errorf("failed to check SORT support: %w", err)
	}

	mbox, err := c.Select(inboxFolder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to examine %s: %w", inboxFolder, err)
	}
	result.Messages = mbox.Messages
	result.UidNext = mbox.UidNext

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	unseen, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen: %w", err)
	}
	result.Unseen = len(unseen)

	return result, nil
}

// VerifyCredentials logs in to the mailbox and examines INBOX, then logs out.
func VerifyCredentials(creds Credentials, opts Options) error {
	c, err := connect(creds, opts.dialOptions())
	if err != nil {
		return err
	}
	defer closeClient(c, opts.StopTimeout)

	if _, err := c.Select(inboxFolder, true); err != nil {
		return fmt.Errorf("failed to examine %s: %w", inboxFolder, err)
	}
	return nil
}
