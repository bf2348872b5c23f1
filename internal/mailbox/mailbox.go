// Package mailbox reads a tenant's inbox over IMAP with token-based
// authentication.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/email"
	"github.com/mailquote/mailquote/internal/oauth"
)

// Client wraps an authenticated IMAP session against one tenant's
// mailbox. It is single-use: connect, fetch, close.
type Client struct {
	host     string
	port     int
	folder   string
	username string

	client *imapclient.Client
	parser *email.Parser
	logger zerolog.Logger
}

// NewClient creates an unconnected mailbox client.
func NewClient(host string, port int, folder, username string, logger zerolog.Logger) *Client {
	if folder == "" {
		folder = "INBOX"
	}
	return &Client{
		host:     host,
		port:     port,
		folder:   folder,
		username: username,
		parser:   email.NewParser(),
		logger:   logger.With().Str("component", "mailbox").Str("mailbox", username).Logger(),
	}
}

// Connect dials the server over TLS and authenticates with XOAUTH2.
func (c *Client) Connect(_ context.Context, accessToken string) error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Authenticate(oauth.NewXOAuth2Client(c.username, accessToken)); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("IMAP authentication failed for %s: %w", c.username, err)
	}

	c.client = client
	return nil
}

// Close logs out of the session. Safe to call when never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout().Wait()
	c.client = nil
	return err
}

// FetchNew returns unseen messages received at or after since, parsed
// into inbound emails. The IMAP SINCE criterion only has day
// granularity, so the cutoff is re-checked locally against each
// message's own date. Messages that fail to parse are skipped, not
// fatal.
func (c *Client) FetchNew(ctx context.Context, tenantID int64, since time.Time) ([]*email.InboundEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.client == nil {
		return nil, fmt.Errorf("mailbox not connected")
	}

	// The protocol waits below have no deadline of their own; closing
	// the connection on context expiry unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = c.client.Close() })
	defer stop()

	if _, err := c.client.Select(c.folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.folder, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var messages []*email.InboundEmail
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to collect message, skipping")
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		parsed, err := c.parser.Parse(raw)
		if err != nil {
			c.logger.Warn().Err(err).Uint32("uid", uint32(buf.UID)).Msg("Failed to parse message, skipping")
			continue
		}
		parsed.UID = uint32(buf.UID)

		if !since.IsZero() && parsed.ReceivedAt.Before(since) {
			continue
		}

		if parsed.MessageID == "" {
			parsed.MessageID = synthesizeMessageID(tenantID, parsed.UID)
			c.logger.Debug().
				Str("message_id", parsed.MessageID).
				Msg("Message has no Message-ID header, synthesized one")
		}

		messages = append(messages, parsed)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}

// MarkRead flags the message as seen. Best effort; a failure here only
// means the message may be fetched again, and ingestion dedup will
// drop it.
func (c *Client) MarkRead(_ context.Context, uid uint32) error {
	if c.client == nil {
		return fmt.Errorf("mailbox not connected")
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	return storeCmd.Close()
}

// synthesizeMessageID builds a stable-enough id for messages that
// arrive without one, unique per tenant, mailbox sequence and time.
func synthesizeMessageID(tenantID int64, uid uint32) string {
	return fmt.Sprintf("imap-%d-%d-%d@mailquote.local", tenantID, uid, time.Now().UnixNano())
}
