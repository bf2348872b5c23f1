package outbound

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/email"
)

func TestNewSender(t *testing.T) {
	logger := zerolog.Nop()
	tokens := func(context.Context, string) (string, error) { return "tok", nil }

	s, err := NewSender(config.OutboundConfig{Provider: "submission", Host: "smtp.gmail.com", Port: 587}, tokens, logger)
	require.NoError(t, err)
	assert.IsType(t, &SubmissionSender{}, s)

	s, err = NewSender(config.OutboundConfig{Provider: "resend", ResendKey: "re_123"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &ResendSender{}, s)

	s, err = NewSender(config.OutboundConfig{}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &NoopSender{}, s)

	_, err = NewSender(config.OutboundConfig{Provider: "submission"}, nil, logger)
	assert.Error(t, err)

	_, err = NewSender(config.OutboundConfig{Provider: "pigeon"}, nil, logger)
	assert.Error(t, err)
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("quotes@acme.com")
	assert.True(t, strings.HasSuffix(id, "@acme.com"))
	assert.NotContains(t, id, "<")

	other := NewMessageID("quotes@acme.com")
	assert.NotEqual(t, id, other)

	assert.True(t, strings.HasSuffix(NewMessageID("bogus"), "@mailquote.local"))
}

func TestBuildMessage(t *testing.T) {
	e := &email.OutboundEmail{
		From:      email.Address{Name: "Acme Quotes", Address: "quotes@acme.com"},
		To:        []email.Address{{Name: "Jane", Address: "jane@example.com"}},
		Subject:   "Re: Quote please",
		TextBody:  "Here is your quote.",
		MessageID: "abc123@acme.com",
		InReplyTo: "orig@example.com",
		References: []string{
			"root@example.com",
			"orig@example.com",
		},
		Attachments: []email.Attachment{
			{Filename: "quote.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 fake")},
		},
	}

	raw, err := buildMessage(e)
	require.NoError(t, err)

	msg := string(raw)
	assert.Contains(t, msg, "From: \"Acme Quotes\" <quotes@acme.com>")
	assert.Contains(t, msg, "Subject: Re: Quote please")
	assert.Contains(t, msg, "Message-Id: <abc123@acme.com>")
	assert.Contains(t, msg, "In-Reply-To: <orig@example.com>")
	assert.Contains(t, msg, "References: <root@example.com> <orig@example.com>")
	assert.Contains(t, msg, "quote.pdf")
}

func TestNoopSender(t *testing.T) {
	s := NewNoopSender(zerolog.Nop())
	err := s.Send(context.Background(), &email.OutboundEmail{
		To:      []email.Address{{Address: "jane@example.com"}},
		Subject: "Re: Quote",
	})
	assert.NoError(t, err)
}
