package oauth

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism used by Gmail and
// Outlook for token-based SMTP and IMAP auth.
type xoauth2Client struct {
	username string
	token    string
	done     bool
}

// NewXOAuth2Client builds a SASL client for the given mailbox and
// bearer token.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

// Next handles the error challenge: on auth failure the server sends a
// JSON status blob and expects an empty response before issuing the
// final rejection.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if c.done {
		return nil, fmt.Errorf("xoauth2: unexpected server challenge: %s", challenge)
	}
	c.done = true
	return []byte{}, nil
}
