package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleMessage = "Message-ID: <msg1@example.com>\r\n" +
	"From: Jane Doe <jane@example.com>\r\n" +
	"To: quotes@acme.com\r\n" +
	"Subject: Quote please\r\n" +
	"Date: Mon, 24 Aug 2026 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"I need a felt rug, 48 x 36.\r\n"

func TestParseSimpleMessage(t *testing.T) {
	p := NewParser()

	e, err := p.Parse([]byte(simpleMessage))
	require.NoError(t, err)

	assert.Equal(t, "msg1@example.com", e.MessageID)
	assert.Equal(t, "Jane Doe", e.From.Name)
	assert.Equal(t, "jane@example.com", e.From.Address)
	assert.Equal(t, "quotes@acme.com", e.FirstTo())
	assert.Equal(t, "Quote please", e.Subject)
	assert.Equal(t, "I need a felt rug, 48 x 36.", e.TextBody)
	assert.Equal(t, 2026, e.ReceivedAt.Year())
	assert.Empty(t, e.InReplyTo)
	assert.Empty(t, e.References)
}

func TestParseThreadingHeaders(t *testing.T) {
	raw := "Message-ID: <reply@example.com>\r\n" +
		"From: jane@example.com\r\n" +
		"To: quotes@acme.com\r\n" +
		"Subject: Re: Quote\r\n" +
		"In-Reply-To: <ours@acme.com>\r\n" +
		"References: <root@example.com> <ours@acme.com>\r\n" +
		"\r\n" +
		"Here are the details.\r\n"

	p := NewParser()
	e, err := p.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "ours@acme.com", e.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "ours@acme.com"}, e.References)
}

func TestParseMultipart(t *testing.T) {
	raw := "Message-ID: <mp@example.com>\r\n" +
		"From: jane@example.com\r\n" +
		"Subject: Quote\r\n" +
		"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Plain body wins.\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>HTML body ignored.</p>\r\n" +
		"--BOUNDARY--\r\n"

	p := NewParser()
	e, err := p.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Plain body wins.", e.TextBody)
	assert.NotContains(t, e.TextBody, "HTML")
}

func TestParseMissingMessageID(t *testing.T) {
	raw := "From: jane@example.com\r\n" +
		"Subject: no id\r\n" +
		"\r\n" +
		"body\r\n"

	p := NewParser()
	e, err := p.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Empty(t, e.MessageID)
	assert.False(t, e.ReceivedAt.IsZero())
}

func TestParseEncodedSubject(t *testing.T) {
	raw := "Message-ID: <enc@example.com>\r\n" +
		"From: jane@example.com\r\n" +
		"Subject: =?UTF-8?Q?Gr=C3=B6=C3=9Fe_anfrage?=\r\n" +
		"\r\n" +
		"body\r\n"

	p := NewParser()
	e, err := p.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Größe anfrage", e.Subject)
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "Jane <jane@example.com>", Address{Name: "Jane", Address: "jane@example.com"}.String())
	assert.Equal(t, "jane@example.com", Address{Address: "jane@example.com"}.String())
}

func TestParseAttachmentNotBody(t *testing.T) {
	raw := "Message-ID: <att@example.com>\r\n" +
		"From: jane@example.com\r\n" +
		"Subject: with attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
		"\r\n" +
		"attachment text\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"real body\r\n" +
		"--BOUNDARY--\r\n"

	p := NewParser()
	e, err := p.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "real body", e.TextBody)
	assert.False(t, strings.Contains(e.TextBody, "attachment text"))
}
