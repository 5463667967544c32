package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents an in-memory IMAP server.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// TestMessage describes a message to append to the test server.
type TestMessage struct {
	MessageID  string
	From       string
	To         string
	Cc         string
	Subject    string
	InReplyTo  string
	References string
	Body       string
	SentAt     time.Time
	Seen       bool
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend and the IDLE extension.
// The memory backend creates a default user with username "username" and password "password".
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// StartIMAPServer starts the in-memory IMAP server on addr outside of a test, for the dev server.
func StartIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true
	s.Enable(idle.NewExtension())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
		username: "username",
		password: "password",
	}, nil
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Host returns the host part of the listen address.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the port part of the listen address.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	p, _ := strconv.Atoi(port)
	return p
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := s.dialAndLogin()
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	return client, func() {
		_ = client.Logout()
	}
}

func (s *TestIMAPServer) dialAndLogin() (*imapclient.Client, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, err
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		return nil, err
	}

	return client, nil
}

// AddMessage appends msg to INBOX and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, msg TestMessage) uint32 {
	t.Helper()

	uid, err := s.Append(msg)
	if err != nil {
		t.Fatalf("Failed to add message: %v", err)
	}
	return uid
}

// Append appends msg to INBOX and returns its UID. It is the non-test form of AddMessage.
func (s *TestIMAPServer) Append(msg TestMessage) (uint32, error) {
	client, err := s.dialAndLogin()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = client.Logout()
	}()

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	var flags []string
	if msg.Seen {
		flags = []string{imap.SeenFlag}
	}

	if err := client.Append("INBOX", flags, msg.SentAt, strings.NewReader(msg.raw())); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := client.Select("INBOX", true); err != nil {
		return 0, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message not found after append")
	}

	return uids[len(uids)-1], nil
}

// IsSeen reports whether the message with uid carries the \Seen flag.
func (s *TestIMAPServer) IsSeen(t *testing.T, uid uint32) bool {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select("INBOX", true); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	if err := client.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags, imap.FetchUid}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}

	for msg := range messages {
		for _, flag := range msg.Flags {
			if flag == imap.SeenFlag {
				return true
			}
		}
	}
	return false
}

func (m TestMessage) raw() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", m.MessageID)
	fmt.Fprintf(&b, "Date: %s\r\n", m.SentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	if m.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", m.Cc)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	if m.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", m.InReplyTo)
	}
	if m.References != "" {
		fmt.Fprintf(&b, "References: %s\r\n", m.References)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	body := m.Body
	if body == "" {
		body = "Test message body."
	}
	b.WriteString(body)
	b.WriteString("\r\n")

	return b.String()
}
