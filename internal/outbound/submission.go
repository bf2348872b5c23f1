package outbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/email"
	"github.com/mailquote/mailquote/internal/oauth"
)

// SubmissionSender delivers mail through the tenant's own provider
// over authenticated SMTP submission, so replies come from the
// tenant's real address and land in their Sent folder.
type SubmissionSender struct {
	host   string
	port   int
	tokens TokenSource
	logger zerolog.Logger
}

// NewSubmissionSender creates a sender for the given submission
// endpoint.
func NewSubmissionSender(host string, port int, tokens TokenSource, logger zerolog.Logger) *SubmissionSender {
	return &SubmissionSender{
		host:   host,
		port:   port,
		tokens: tokens,
		logger: logger.With().Str("component", "outbound").Logger(),
	}
}

func (s *SubmissionSender) Send(ctx context.Context, e *email.OutboundEmail) error {
	token, err := s.tokens(ctx, e.From.Address)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	msg, err := buildMessage(e)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	c, err := smtp.DialStartTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.Auth(oauth.NewXOAuth2Client(e.From.Address, token)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}

	rcpts := make([]string, len(e.To))
	for i, a := range e.To {
		rcpts[i] = a.Address
	}

	if err := c.SendMail(e.From.Address, rcpts, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.logger.Info().
		Strs("to", rcpts).
		Str("subject", e.Subject).
		Msg("Message submitted")

	return c.Quit()
}

// buildMessage renders the outbound email as a MIME message with the
// threading headers set and any attachments included.
func buildMessage(e *email.OutboundEmail) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: e.From.Name, Address: e.From.Address}})

	to := make([]*mail.Address, len(e.To))
	for i, a := range e.To {
		to[i] = &mail.Address{Name: a.Name, Address: a.Address}
	}
	h.SetAddressList("To", to)
	h.SetSubject(e.Subject)

	if e.MessageID != "" {
		h.SetMessageID(e.MessageID)
	}
	if e.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{e.InReplyTo})
	}
	if len(e.References) > 0 {
		h.SetMsgIDList("References", e.References)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, e.TextBody); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, att := range e.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.ContentType != "" {
			ah.SetContentType(att.ContentType, nil)
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
