package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/crypto"
	"github.com/mailquote/mailquote/internal/email"
	"github.com/mailquote/mailquote/internal/oauth"
	"github.com/mailquote/mailquote/internal/quote"
	"github.com/mailquote/mailquote/internal/storage"
	"github.com/mailquote/mailquote/internal/tenant"
)

func newTestPipeline(t *testing.T, tokenURL string) (*Pipeline, *storage.Store, *crypto.Sealer) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sealer, err := crypto.NewSealer("test-key")
	require.NoError(t, err)

	mgr := oauth.NewManager(config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
	}, zerolog.Nop())

	resolver := tenant.NewResolver(store, config.PricingConfig{}, zerolog.Nop())
	p := NewPipeline(store, mgr, sealer, resolver, nil, zerolog.Nop())
	mgr.Persist = p.PersistBundle
	return p, store, sealer
}

// stubProcessor records which messages the pipeline hands over.
type stubProcessor struct {
	processed   []string
	reprocessed []string
}

func (s *stubProcessor) Process(_ context.Context, _ *storage.Tenant, in *email.InboundEmail) (*quote.Outcome, error) {
	s.processed = append(s.processed, in.MessageID)
	return &quote.Outcome{Action: quote.ActionQuoted}, nil
}

func (s *stubProcessor) Reprocess(_ context.Context, _ *storage.Tenant, m *storage.InboundMessage) (*quote.Outcome, error) {
	s.reprocessed = append(s.reprocessed, m.MessageID)
	return &quote.Outcome{Action: quote.ActionQuoted}, nil
}

func TestTickSkipsUnpollableTenants(t *testing.T) {
	p, store, _ := newTestPipeline(t, "http://unused.example")
	ctx := context.Background()

	// Unknown tenant.
	assert.NoError(t, p.Tick(ctx, 999))

	// No credentials.
	tn := &storage.Tenant{Name: "Co", Email: "a@acme.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, tn))
	assert.NoError(t, p.Tick(ctx, tn.ID))

	// Inactive.
	dead := &storage.Tenant{Name: "Co", Email: "b@acme.com", IMAPPort: 993, RefreshTokenSealed: "x"}
	require.NoError(t, store.CreateTenant(ctx, dead))
	assert.NoError(t, p.Tick(ctx, dead.ID))
}

func TestTickClearsDeadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	p, store, sealer := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	sealed, err := sealer.Seal("revoked-refresh-token")
	require.NoError(t, err)

	tn := &storage.Tenant{
		Name: "Co", Email: "a@acme.com", IMAPPort: 993, Active: true,
		RefreshTokenSealed: sealed,
	}
	require.NoError(t, store.CreateTenant(ctx, tn))

	err = p.Tick(ctx, tn.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, oauth.ErrUnauthorized)

	// The dead credential was cleared, the next tick skips cleanly.
	got, err := store.GetTenant(ctx, tn.ID)
	require.NoError(t, err)
	assert.False(t, got.HasCredentials())
	assert.NoError(t, p.Tick(ctx, tn.ID))
}

func TestPersistBundleRoundTrip(t *testing.T) {
	p, store, _ := newTestPipeline(t, "http://unused.example")
	ctx := context.Background()

	tn := &storage.Tenant{Name: "Co", Email: "a@acme.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, tn))

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	connected := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.PersistBundle(ctx, tn.ID, oauth.Bundle{
		RefreshToken: "refresh",
		AccessToken:  "access",
		ExpiresAt:    expires,
		ConnectedAt:  connected,
		Email:        "mailbox@acme.com",
	}))

	got, err := store.GetTenant(ctx, tn.ID)
	require.NoError(t, err)
	require.True(t, got.HasCredentials())

	bundle, err := p.unsealBundle(got)
	require.NoError(t, err)
	assert.Equal(t, "refresh", bundle.RefreshToken)
	assert.Equal(t, "access", bundle.AccessToken)
	assert.Equal(t, "mailbox@acme.com", bundle.Email)
	assert.True(t, bundle.ExpiresAt.Equal(expires))
}

func TestAccessTokenForUsesCachedToken(t *testing.T) {
	p, store, _ := newTestPipeline(t, "http://unused.example")
	ctx := context.Background()

	tn := &storage.Tenant{Name: "Co", Email: "a@acme.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, tn))

	require.NoError(t, p.PersistBundle(ctx, tn.ID, oauth.Bundle{
		RefreshToken: "refresh",
		AccessToken:  "cached-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		ConnectedAt:  time.Now(),
		Email:        "a@acme.com",
	}))

	tok, err := p.AccessTokenFor(ctx, "a@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "cached-token", tok)

	_, err = p.AccessTokenFor(ctx, "nobody@nowhere.com")
	assert.Error(t, err)
}

func TestSinceForOverlap(t *testing.T) {
	p, _, _ := newTestPipeline(t, "http://unused.example")

	// First poll looks back a bounded window.
	first := p.sinceFor(1, time.Time{})
	assert.WithinDuration(t, time.Now().Add(-initialLookback), first, time.Minute)

	// Later polls overlap slightly with the previous one.
	at := time.Now()
	p.setLastPoll(1, at)
	assert.WithinDuration(t, at.Add(-time.Minute), p.sinceFor(1, time.Time{}), time.Second)
}

func TestSinceForFloorsAtConnection(t *testing.T) {
	p, _, _ := newTestPipeline(t, "http://unused.example")

	// Mail received before the mailbox was connected is backlog the
	// tenant never authorized automation for.
	connected := time.Now().Add(-2 * time.Hour)
	assert.True(t, p.sinceFor(1, connected).Equal(connected))

	// A connection older than the lookback window does not widen it.
	old := time.Now().Add(-72 * time.Hour)
	assert.WithinDuration(t, time.Now().Add(-initialLookback), p.sinceFor(1, old), time.Minute)

	// The overlap rewind cannot dip behind the connection time either.
	p.setLastPoll(1, connected.Add(30*time.Second))
	assert.True(t, p.sinceFor(1, connected).Equal(connected))
}

func TestOwnerForResolvesRecipient(t *testing.T) {
	p, store, _ := newTestPipeline(t, "http://unused.example")
	ctx := context.Background()

	acme := &storage.Tenant{Name: "Acme", Email: "quotes@acme.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, acme))
	beta := &storage.Tenant{Name: "Beta", Email: "sales@beta.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, beta))

	// Mail addressed to another tenant files under that tenant even
	// when it arrives through acme's poll.
	in := &email.InboundEmail{To: []email.Address{{Address: "sales@beta.com"}}}
	assert.Equal(t, beta.ID, p.ownerFor(ctx, acme, in).ID)

	// Alias local parts resolve too.
	in = &email.InboundEmail{To: []email.Address{{Address: "sales+rush@beta.com"}}}
	assert.Equal(t, beta.ID, p.ownerFor(ctx, acme, in).ID)

	// Unresolvable recipients fall back to the first active tenant.
	in = &email.InboundEmail{To: []email.Address{{Address: "nobody@nowhere.com"}}}
	assert.Equal(t, acme.ID, p.ownerFor(ctx, acme, in).ID)
}

func TestTickRetriesBacklog(t *testing.T) {
	p, store, _ := newTestPipeline(t, "http://unused.example")
	proc := &stubProcessor{}
	p.SetProcessor(proc)
	ctx := context.Background()

	tn := &storage.Tenant{
		Name: "Co", Email: "a@acme.com",
		IMAPHost: "127.0.0.1", IMAPPort: 1,
		Active: true,
	}
	require.NoError(t, store.CreateTenant(ctx, tn))
	require.NoError(t, p.PersistBundle(ctx, tn.ID, oauth.Bundle{
		RefreshToken: "refresh",
		AccessToken:  "cached-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		ConnectedAt:  time.Now().Add(-time.Hour),
		Email:        "a@acme.com",
	}))

	require.NoError(t, store.InsertInbound(ctx, &storage.InboundMessage{
		TenantID:   tn.ID,
		MessageID:  "stuck@example.com",
		FromEmail:  "jane@example.com",
		ToEmail:    "a@acme.com",
		Subject:    "Quote",
		Body:       "felt rug 48 x 36",
		ReceivedAt: time.Now().UTC(),
	}))

	// The tick fails at the mailbox dial, but the backlog retry has
	// already run by then.
	err := p.Tick(ctx, tn.ID)
	require.Error(t, err)
	assert.Equal(t, []string{"stuck@example.com"}, proc.reprocessed)
	assert.Empty(t, proc.processed)
}
