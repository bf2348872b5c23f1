package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailquote/mailquote/internal/config"
)

func testManager(tokenURL string) *Manager {
	return NewManager(config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "https://provider.example/auth",
		TokenURL:     tokenURL,
		RevokeURL:    tokenURL + "/revoke",
		Scope:        "https://mail.google.com/",
	}, zerolog.Nop())
}

func TestBundleValid(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	b := &Bundle{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, b.Valid(now))

	// Inside the expiry margin counts as expired.
	b.ExpiresAt = now.Add(4 * time.Minute)
	assert.False(t, b.Valid(now))

	b.ExpiresAt = now.Add(6 * time.Minute)
	assert.True(t, b.Valid(now))

	empty := &Bundle{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, empty.Valid(now))
}

func TestAccessTokenUsesCachedToken(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	m := testManager(srv.URL)
	b := &Bundle{
		RefreshToken: "refresh",
		AccessToken:  "cached",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	tok, err := m.AccessToken(context.Background(), 1, b)
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestAccessTokenRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh", r.Form.Get("refresh_token"))
		assert.Equal(t, "client", r.Form.Get("client_id"))
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	m := testManager(srv.URL)

	var persisted *Bundle
	m.Persist = func(_ context.Context, tenantID int64, b Bundle) error {
		assert.Equal(t, int64(7), tenantID)
		persisted = &b
		return nil
	}

	b := &Bundle{RefreshToken: "refresh"}
	tok, err := m.AccessToken(context.Background(), 7, b)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, "fresh", b.AccessToken)
	assert.True(t, b.ExpiresAt.After(time.Now().Add(50*time.Minute)))

	require.NotNil(t, persisted)
	assert.Equal(t, "fresh", persisted.AccessToken)
	assert.Equal(t, "refresh", persisted.RefreshToken)
}

func TestAccessTokenInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	m := testManager(srv.URL)
	b := &Bundle{RefreshToken: "revoked"}

	_, err := m.AccessToken(context.Background(), 1, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAccessTokenTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m := testManager(srv.URL)
	b := &Bundle{RefreshToken: "refresh"}

	_, err := m.AccessToken(context.Background(), 1, b)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestAccessTokenNoRefreshToken(t *testing.T) {
	m := testManager("http://unused.example")

	_, err := m.AccessToken(context.Background(), 1, &Bundle{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer srv.Close()

	m := testManager(srv.URL)
	b, err := m.ExchangeCode(context.Background(), "the-code", "https://app.example/callback")
	require.NoError(t, err)
	assert.Equal(t, "rt", b.RefreshToken)
	assert.Equal(t, "at", b.AccessToken)
	assert.False(t, b.ConnectedAt.IsZero())
}

func TestAuthorizationURLStateRoundTrip(t *testing.T) {
	m := testManager("http://unused.example")

	rawURL, err := m.AuthorizationURL(42, "https://app.example/callback")
	require.NoError(t, err)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawURL, "https://provider.example/auth?"))

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))

	tenantID, err := ParseState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), tenantID)
}

func TestParseStateInvalid(t *testing.T) {
	_, err := ParseState("not-base64!!!")
	assert.Error(t, err)

	_, err = ParseState("aGVsbG8=") // valid base64, not JSON
	assert.Error(t, err)
}
