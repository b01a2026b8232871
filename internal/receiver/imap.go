package receiver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Security selects how the connection is protected.
type Security int

const (
	// SecurityTLS dials implicit TLS (IMAPS).
	SecurityTLS Security = iota
	// SecurityStartTLS dials plain text and upgrades with STARTTLS.
	SecurityStartTLS
	// SecurityNone never encrypts. Only for local test servers.
	SecurityNone
)

// IMAPReceiver opens IMAP/IMAPS sessions on one mailbox.
type IMAPReceiver struct {
	host     string
	port     int
	username string
	password string
	security Security
	mailbox  string
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP receiver.
func NewIMAP(host string, port int, username, password string, security Security, mailbox string, logger *slog.Logger) *IMAPReceiver {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPReceiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		security: security,
		mailbox:  mailbox,
		logger:   logger,
	}
}

// Open dials the server, logs in and selects the mailbox. Whatever was
// opened is released again when a later step fails.
func (r *IMAPReceiver) Open() (Session, error) {
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))

	var client *imapclient.Client
	var err error

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: r.host},
	}
	switch r.security {
	case SecurityNone:
		client, err = imapclient.DialInsecure(addr, opts)
	case SecurityStartTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := client.Login(r.username, r.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login %s: %w", r.username, err)
	}

	selected, err := client.Select(r.mailbox, nil).Wait()
	if err != nil {
		s := &imapSession{client: client}
		return nil, errors.Join(fmt.Errorf("imap select %s: %w", r.mailbox, err), s.Close())
	}

	r.logger.Debug("mailbox selected",
		"mailbox", r.mailbox,
		"messages", selected.NumMessages,
	)

	return &imapSession{client: client}, nil
}

type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Unseen() ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	ids := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, uint32(uid))
	}
	return ids, nil
}

func (s *imapSession) Fetch(id uint32) ([]byte, error) {
	// BODY.PEEK[] leaves \Seen alone; only MarkSeen may set it.
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := s.client.Fetch(imap.UIDSetNum(imap.UID(id)), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch uid %d: %w", id, err)
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("imap fetch uid %d: message not found", id)
	}

	content := buffers[0].FindBodySection(bodySection)
	if len(content) == 0 {
		return nil, fmt.Errorf("imap fetch uid %d: empty body", id)
	}
	return content, nil
}

func (s *imapSession) MarkSeen(id uint32) error {
	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(id)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("imap store seen uid %d: %w", id, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	err := s.client.Logout().Wait()
	// The server drops the connection after LOGOUT; Close only frees our side.
	s.client.Close()
	if err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}
