// Package outbound delivers auto-replies, either through the tenant's
// own mailbox via authenticated submission or through the Resend API.
package outbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/email"
)

// Sender delivers one outbound email.
type Sender interface {
	Send(ctx context.Context, e *email.OutboundEmail) error
}

// TokenSource supplies a live access token for a sending mailbox.
// Submission re-authenticates on every send so a token refreshed
// mid-run is always picked up.
type TokenSource func(ctx context.Context, mailbox string) (token string, err error)

// NewSender builds the configured sender. An empty provider returns a
// NoopSender, which records but never delivers.
func NewSender(cfg config.OutboundConfig, tokens TokenSource, logger zerolog.Logger) (Sender, error) {
	switch cfg.Provider {
	case "submission":
		if tokens == nil {
			return nil, fmt.Errorf("submission sender requires a token source")
		}
		return NewSubmissionSender(cfg.Host, cfg.Port, tokens, logger), nil
	case "resend":
		return NewResendSender(cfg.ResendKey), nil
	case "":
		return NewNoopSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown outbound provider %q", cfg.Provider)
	}
}

// NoopSender logs instead of delivering. Useful for dry runs and as
// the default when no provider is configured.
type NoopSender struct {
	logger zerolog.Logger
}

// NewNoopSender creates a sender that only logs.
func NewNoopSender(logger zerolog.Logger) *NoopSender {
	return &NoopSender{logger: logger.With().Str("component", "outbound").Logger()}
}

func (s *NoopSender) Send(_ context.Context, e *email.OutboundEmail) error {
	to := make([]string, len(e.To))
	for i, a := range e.To {
		to[i] = a.Address
	}
	s.logger.Info().
		Strs("to", to).
		Str("subject", e.Subject).
		Msg("Dry run, not delivering")
	return nil
}

// NewMessageID generates a fresh outbound message id scoped to the
// sender's domain.
func NewMessageID(fromAddress string) string {
	domain := "mailquote.local"
	if i := strings.IndexByte(fromAddress, '@'); i >= 0 && i+1 < len(fromAddress) {
		domain = fromAddress[i+1:]
	}
	return uuid.NewString() + "@" + domain
}
