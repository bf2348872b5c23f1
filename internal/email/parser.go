package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// Parser parses raw email messages
type Parser struct{}

// NewParser creates a new email parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a raw email message. The returned MessageID is empty
// when the message carries no Message-ID header; the caller is
// responsible for synthesizing one.
func (p *Parser) Parse(rawMessage []byte) (*InboundEmail, error) {
	reader := bytes.NewReader(rawMessage)

	entity, err := message.Read(reader)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	e := &InboundEmail{}

	header := entity.Header

	e.MessageID = trimAngles(header.Get("Message-ID"))

	if from := header.Get("From"); from != "" {
		if addr, err := parseAddress(from); err == nil {
			e.From = addr
		}
	}

	if to := header.Get("To"); to != "" {
		if addrs, err := parseAddressList(to); err == nil {
			e.To = addrs
		}
	}

	e.Subject = decodeHeader(header.Get("Subject"))

	e.InReplyTo = trimAngles(header.Get("In-Reply-To"))
	if refs := header.Get("References"); refs != "" {
		for _, ref := range strings.Fields(refs) {
			if id := trimAngles(ref); id != "" {
				e.References = append(e.References, id)
			}
		}
	}

	if dateStr := header.Get("Date"); dateStr != "" {
		if t, err := mail.ParseDate(dateStr); err == nil {
			e.ReceivedAt = t
		}
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	if err := p.parseBody(entity, e); err != nil {
		return nil, fmt.Errorf("failed to parse body: %w", err)
	}

	return e, nil
}

// parseBody recursively walks the message looking for the first
// text/plain part that is not an attachment. Non-multipart messages
// use the whole decoded payload.
func (p *Parser) parseBody(entity *message.Entity, e *InboundEmail) error {
	mediaType, _, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if err := p.parseBody(part, e); err != nil {
				return err
			}
		}
		return nil
	}

	// First text/plain part wins
	if e.TextBody != "" {
		return nil
	}

	disposition, _, _ := entity.Header.ContentDisposition()
	if disposition == "attachment" {
		return nil
	}

	if strings.HasPrefix(mediaType, "text/plain") {
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		e.TextBody = strings.TrimSpace(string(body))
	}

	return nil
}

// parseAddress parses a single email address
func parseAddress(s string) (Address, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		// Try to extract just the email
		s = strings.TrimSpace(s)
		if strings.Contains(s, "@") {
			return Address{Address: trimAngles(s)}, nil
		}
		return Address{}, err
	}
	return Address{
		Name:    addr.Name,
		Address: addr.Address,
	}, nil
}

// parseAddressList parses a comma-separated list of email addresses
func parseAddressList(s string) ([]Address, error) {
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		// Try splitting manually
		parts := strings.Split(s, ",")
		var result []Address
		for _, p := range parts {
			addr, err := parseAddress(strings.TrimSpace(p))
			if err == nil {
				result = append(result, addr)
			}
		}
		if len(result) > 0 {
			return result, nil
		}
		return nil, err
	}

	result := make([]Address, len(addrs))
	for i, addr := range addrs {
		result[i] = Address{
			Name:    addr.Name,
			Address: addr.Address,
		}
	}
	return result, nil
}

// decodeHeader decodes RFC 2047 encoded header values
func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}
