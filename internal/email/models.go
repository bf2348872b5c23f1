package email

import (
	"time"
)

// Address represents an email address with optional name
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String returns the formatted address
func (a Address) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// InboundEmail represents a parsed inbound email
type InboundEmail struct {
	MessageID  string    `json:"message_id"`
	From       Address   `json:"from"`
	To         []Address `json:"to"`
	Subject    string    `json:"subject"`
	TextBody   string    `json:"text_body"`
	ReceivedAt time.Time `json:"received_at"`

	// Thread-correlation headers, angle brackets stripped.
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`

	// Server-assigned sequence identifier from the mailbox, used for
	// mark-as-read. Distinct from MessageID.
	UID uint32 `json:"-"`
}

// FirstTo returns the first recipient address, or "" if none
func (e *InboundEmail) FirstTo() string {
	if len(e.To) == 0 {
		return ""
	}
	return e.To[0].Address
}

// OutboundEmail represents an email to be sent
type OutboundEmail struct {
	From        Address      `json:"from"`
	To          []Address    `json:"to"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body"`
	Attachments []Attachment `json:"attachments"`
	MessageID   string       `json:"message_id"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	References  []string     `json:"references,omitempty"`
}
