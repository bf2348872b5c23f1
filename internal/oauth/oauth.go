package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
)

// expiryMargin is subtracted from the token expiry when deciding
// whether a cached access token is still usable.
const expiryMargin = 5 * time.Minute

// ErrUnauthorized means the provider rejected the refresh token. The
// credential is dead and polling for the tenant must stop until the
// tenant re-authorizes.
var ErrUnauthorized = errors.New("oauth: refresh token rejected")

// Bundle holds one tenant's delegated credentials. AccessToken and
// ExpiresAt are always read and replaced together.
type Bundle struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
	ConnectedAt  time.Time
	Email        string
}

// Valid reports whether the cached access token can still be used.
func (b *Bundle) Valid(now time.Time) bool {
	return b.AccessToken != "" && now.Before(b.ExpiresAt.Add(-expiryMargin))
}

// Manager owns access-token validity for tenant credential bundles.
// Refreshes for the same tenant are serialized so two concurrent
// callers cannot race and clobber each other's token.
type Manager struct {
	cfg    config.OAuthConfig
	client *http.Client
	logger zerolog.Logger

	// Persist, when set, is called after a successful refresh so the
	// updated bundle can be written back to storage.
	Persist func(ctx context.Context, tenantID int64, b Bundle) error

	now func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager creates a credential manager for the configured provider.
func NewManager(cfg config.OAuthConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "oauth").Logger(),
		now:    time.Now,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// tenantLock returns the per-tenant refresh mutex, creating it on
// first use.
func (m *Manager) tenantLock(tenantID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	return l
}

// AccessToken returns a usable access token for the tenant, refreshing
// the bundle first when the cached token is expired or missing. The
// bundle is mutated in place under the tenant's refresh lock: readers
// holding the lock see either the old consistent token/expiry pair or
// the new one.
func (m *Manager) AccessToken(ctx context.Context, tenantID int64, b *Bundle) (string, error) {
	if b.RefreshToken == "" {
		return "", fmt.Errorf("tenant %d has no refresh token: %w", tenantID, ErrUnauthorized)
	}

	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if b.Valid(m.now()) {
		return b.AccessToken, nil
	}

	m.logger.Info().Int64("tenant_id", tenantID).Msg("Access token expired or missing, refreshing")

	token, expiresAt, err := m.refresh(ctx, b.RefreshToken)
	if err != nil {
		return "", err
	}

	b.AccessToken = token
	b.ExpiresAt = expiresAt

	if m.Persist != nil {
		if err := m.Persist(ctx, tenantID, *b); err != nil {
			m.logger.Error().Err(err).Int64("tenant_id", tenantID).Msg("Failed to persist refreshed bundle")
		}
	}

	return token, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Error        string `json:"error"`
}

// refresh performs the refresh exchange against the provider's token
// endpoint. A definitive rejection (invalid_grant) surfaces
// ErrUnauthorized; anything else is transient and the caller should
// retry on a later tick.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}

	tr, err := m.postForm(ctx, m.cfg.TokenURL, form)
	if err != nil {
		return "", time.Time{}, err
	}

	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned no access token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return tr.AccessToken, m.now().Add(time.Duration(expiresIn) * time.Second), nil
}

// ExchangeCode trades an authorization code for a fresh credential
// bundle.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (*Bundle, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}

	tr, err := m.postForm(ctx, m.cfg.TokenURL, form)
	if err != nil {
		return nil, err
	}

	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("token endpoint returned incomplete credential")
	}

	now := m.now()
	return &Bundle{
		RefreshToken: tr.RefreshToken,
		AccessToken:  tr.AccessToken,
		ExpiresAt:    now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		ConnectedAt:  now,
	}, nil
}

func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// invalid_grant means the refresh token is revoked or expired,
		// which is not recoverable by retrying.
		if tr.Error == "invalid_grant" || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%s: %w", tr.Error, ErrUnauthorized)
		}
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	return &tr, nil
}

// Revoke best-effort notifies the provider that the refresh token
// should be invalidated. Local credential clearing is the caller's
// job and must proceed even when this fails.
func (m *Manager) Revoke(ctx context.Context, b *Bundle) error {
	form := url.Values{"token": {b.RefreshToken}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// authState carries the tenant identity through the authorization
// round trip inside the opaque state parameter.
type authState struct {
	TenantID int64 `json:"tenant_id"`
}

// AuthorizationURL builds the provider authorization URL with the
// tenant id embedded in the state parameter.
func (m *Manager) AuthorizationURL(tenantID int64, redirectURI string) (string, error) {
	raw, err := json.Marshal(authState{TenantID: tenantID})
	if err != nil {
		return "", err
	}

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {m.cfg.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {m.cfg.Scope},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {base64.URLEncoding.EncodeToString(raw)},
	}

	return m.cfg.AuthURL + "?" + q.Encode(), nil
}

// ParseState recovers the tenant id from an authorization state value.
func ParseState(state string) (int64, error) {
	raw, err := base64.URLEncoding.DecodeString(state)
	if err != nil {
		return 0, fmt.Errorf("failed to decode state: %w", err)
	}

	var st authState
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0, fmt.Errorf("failed to parse state: %w", err)
	}
	return st.TenantID, nil
}
