package outbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/mailquote/mailquote/internal/email"
)

// ResendSender sends emails via the Resend API. Used when a tenant has
// no mailbox authorization for sending or as a platform-wide fallback.
type ResendSender struct {
	client *resend.Client
}

// NewResendSender creates a new Resend sender
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
	}
}

func (s *ResendSender) Send(ctx context.Context, e *email.OutboundEmail) error {
	to := make([]string, len(e.To))
	for i, addr := range e.To {
		to[i] = addr.Address
	}

	from := e.From.Address
	if e.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", e.From.Name, e.From.Address)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Subject: e.Subject,
		Text:    e.TextBody,
	}

	if e.InReplyTo != "" {
		params.Headers = map[string]string{
			"In-Reply-To": "<" + e.InReplyTo + ">",
		}
		if len(e.References) > 0 {
			refs := make([]string, len(e.References))
			for i, r := range e.References {
				refs[i] = "<" + r + ">"
			}
			params.Headers["References"] = strings.Join(refs, " ")
		}
	}

	for _, att := range e.Attachments {
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Filename:    att.Filename,
			Content:     att.Data,
			ContentType: att.ContentType,
		})
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}

	return nil
}
