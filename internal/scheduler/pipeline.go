package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/crypto"
	"github.com/mailquote/mailquote/internal/email"
	"github.com/mailquote/mailquote/internal/mailbox"
	"github.com/mailquote/mailquote/internal/oauth"
	"github.com/mailquote/mailquote/internal/quote"
	"github.com/mailquote/mailquote/internal/storage"
	"github.com/mailquote/mailquote/internal/tenant"
)

// initialLookback bounds the first poll of a mailbox so a freshly
// connected tenant is not flooded with months of history.
const initialLookback = 24 * time.Hour

// Processor consumes inbound email for a tenant, either freshly
// fetched or stored from an earlier incomplete attempt. Satisfied by
// the quote orchestrator.
type Processor interface {
	Process(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail) (*quote.Outcome, error)
	Reprocess(ctx context.Context, tn *storage.Tenant, msg *storage.InboundMessage) (*quote.Outcome, error)
}

// Pipeline is the per-tenant poll: unseal credentials, get a live
// token, fetch new mail and hand each message to the processor. Its
// Tick method is the scheduler's TickFunc.
type Pipeline struct {
	store     *storage.Store
	oauth     *oauth.Manager
	sealer    *crypto.Sealer
	resolver  *tenant.Resolver
	processor Processor
	logger    zerolog.Logger

	now func() time.Time

	mu       sync.Mutex
	lastPoll map[int64]time.Time
}

// NewPipeline wires the polling pipeline. The processor may be nil at
// construction and installed later with SetProcessor, which breaks
// the wiring cycle between sender and orchestrator.
func NewPipeline(store *storage.Store, mgr *oauth.Manager, sealer *crypto.Sealer, resolver *tenant.Resolver, processor Processor, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		oauth:     mgr,
		sealer:    sealer,
		resolver:  resolver,
		processor: processor,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
		lastPoll:  make(map[int64]time.Time),
	}
}

// SetProcessor installs the message processor. Must be called before
// the first Tick.
func (p *Pipeline) SetProcessor(processor Processor) {
	p.processor = processor
}

// Tick polls one tenant's mailbox once.
func (p *Pipeline) Tick(ctx context.Context, tenantID int64) error {
	tn, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tn == nil || !tn.Active {
		return nil
	}
	if !tn.HasCredentials() {
		p.logger.Debug().Int64("tenant_id", tenantID).Msg("Tenant has no credentials, skipping")
		return nil
	}

	log := p.logger.With().Int64("tenant_id", tn.ID).Logger()

	bundle, err := p.unsealBundle(tn)
	if err != nil {
		return fmt.Errorf("failed to unseal credentials for tenant %d: %w", tn.ID, err)
	}

	token, err := p.oauth.AccessToken(ctx, tn.ID, bundle)
	if err != nil {
		if errors.Is(err, oauth.ErrUnauthorized) {
			// The refresh token is dead. Clear it so polling stops
			// until the tenant reconnects.
			log.Warn().Msg("Refresh token rejected, disconnecting tenant")
			if clearErr := p.store.ClearTenantCredentials(ctx, tn.ID); clearErr != nil {
				log.Error().Err(clearErr).Msg("Failed to clear dead credentials")
			}
		}
		return err
	}

	p.retryBacklog(ctx, tn, log)

	client := mailbox.NewClient(tn.IMAPHost, tn.IMAPPort, tn.IMAPFolder, tn.SenderAddress(), p.logger)
	if err := client.Connect(ctx, token); err != nil {
		return err
	}
	defer client.Close()

	since := p.sinceFor(tn.ID, bundle.ConnectedAt)
	messages, err := client.FetchNew(ctx, tn.ID, since)
	if err != nil {
		return err
	}

	if len(messages) > 0 {
		log.Info().Int("count", len(messages)).Msg("Fetched new messages")
	}

	// One bad message must not block the rest of the batch.
	for _, msg := range messages {
		owner := p.ownerFor(ctx, tn, msg)
		outcome, err := p.processor.Process(ctx, owner, msg)
		if err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.MessageID).
				Msg("Failed to process message")
			continue
		}

		log.Debug().
			Str("message_id", msg.MessageID).
			Str("action", string(outcome.Action)).
			Msg("Processed message")

		if err := client.MarkRead(ctx, msg.UID); err != nil {
			log.Warn().Err(err).Uint32("uid", msg.UID).Msg("Failed to mark message read")
		}
	}

	p.setLastPoll(tn.ID, p.now())
	return nil
}

// ownerFor resolves which tenant a fetched message was addressed to.
// Forwarding and shared mailboxes mean mail for one tenant can land in
// another tenant's inbox, so the recipient address decides ownership.
// The polled tenant is the fallback when nothing resolves.
func (p *Pipeline) ownerFor(ctx context.Context, polled *storage.Tenant, in *email.InboundEmail) *storage.Tenant {
	owner, err := p.resolver.ResolveTenant(ctx, in.FirstTo())
	if err != nil {
		p.logger.Warn().Err(err).Str("to", in.FirstTo()).Msg("Tenant resolution failed, using polled tenant")
		return polled
	}
	if owner == nil {
		return polled
	}
	return owner
}

// retryBacklog re-runs messages whose handling did not complete on an
// earlier tick, before any new mail is fetched. A message that keeps
// failing is retried every tick; the error stays visible in the log.
func (p *Pipeline) retryBacklog(ctx context.Context, tn *storage.Tenant, log zerolog.Logger) {
	backlog, err := p.store.ListUnprocessedInbound(ctx, tn.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unprocessed backlog")
		return
	}

	for _, msg := range backlog {
		outcome, err := p.processor.Reprocess(ctx, tn, msg)
		if err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.MessageID).
				Msg("Failed to reprocess message")
			continue
		}
		log.Debug().
			Str("message_id", msg.MessageID).
			Str("action", string(outcome.Action)).
			Msg("Reprocessed message")
	}
}

// unsealBundle decrypts the tenant's stored credential bundle.
func (p *Pipeline) unsealBundle(tn *storage.Tenant) (*oauth.Bundle, error) {
	refresh, err := p.sealer.Open(tn.RefreshTokenSealed)
	if err != nil {
		return nil, err
	}

	b := &oauth.Bundle{
		RefreshToken: refresh,
		Email:        tn.OAuthEmail,
	}
	if tn.AccessTokenSealed != "" {
		access, err := p.sealer.Open(tn.AccessTokenSealed)
		if err == nil {
			b.AccessToken = access
		}
	}
	if tn.TokenExpiresAt != nil {
		b.ExpiresAt = *tn.TokenExpiresAt
	}
	if tn.ConnectedAt != nil {
		b.ConnectedAt = *tn.ConnectedAt
	}
	return b, nil
}

// AccessTokenFor resolves a live access token for the tenant owning
// the given mailbox address. Used by the submission sender.
func (p *Pipeline) AccessTokenFor(ctx context.Context, mailboxAddr string) (string, error) {
	tn, err := p.store.GetTenantByEmail(ctx, mailboxAddr)
	if err != nil {
		return "", err
	}
	if tn == nil {
		return "", fmt.Errorf("no tenant owns mailbox %s", mailboxAddr)
	}
	if !tn.HasCredentials() {
		return "", fmt.Errorf("tenant %d has no credentials: %w", tn.ID, oauth.ErrUnauthorized)
	}

	bundle, err := p.unsealBundle(tn)
	if err != nil {
		return "", err
	}
	return p.oauth.AccessToken(ctx, tn.ID, bundle)
}

// PersistBundle seals a refreshed credential bundle back into the
// tenant row. Installed as the credential manager's persistence hook.
func (p *Pipeline) PersistBundle(ctx context.Context, tenantID int64, b oauth.Bundle) error {
	refreshSealed, err := p.sealer.Seal(b.RefreshToken)
	if err != nil {
		return err
	}
	accessSealed, err := p.sealer.Seal(b.AccessToken)
	if err != nil {
		return err
	}

	expiresAt := b.ExpiresAt
	connectedAt := b.ConnectedAt
	return p.store.UpdateTenantCredentials(ctx, tenantID,
		refreshSealed, accessSealed, &expiresAt, &connectedAt, b.Email)
}

func (p *Pipeline) sinceFor(tenantID int64, connectedAt time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	since, ok := p.lastPoll[tenantID]
	if ok {
		// Overlap a little; ingestion dedup drops anything refetched.
		since = since.Add(-time.Minute)
	} else {
		since = p.now().Add(-initialLookback)
	}

	// Mail received before the tenant authorized automation is
	// pre-existing backlog and must never be auto-answered.
	if !connectedAt.IsZero() && since.Before(connectedAt) {
		since = connectedAt
	}
	return since
}

func (p *Pipeline) setLastPoll(tenantID int64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPoll[tenantID] = at
}
