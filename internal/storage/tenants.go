package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const tenantColumns = `id, name, email, imap_host, imap_port, imap_folder,
	poll_interval_minutes, refresh_token, access_token, token_expires_at,
	connected_at, oauth_email, active, created_at`

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	var t Tenant
	var expiresAt, connectedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Name, &t.Email, &t.IMAPHost, &t.IMAPPort, &t.IMAPFolder,
		&t.PollIntervalMins, &t.RefreshTokenSealed, &t.AccessTokenSealed,
		&expiresAt, &connectedAt, &t.OAuthEmail, &t.Active, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t.TokenExpiresAt = &expiresAt.Time
	}
	if connectedAt.Valid {
		t.ConnectedAt = &connectedAt.Time
	}
	return &t, nil
}

// CreateTenant stores a new tenant record
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (
			name, email, imap_host, imap_port, imap_folder,
			poll_interval_minutes, refresh_token, access_token,
			token_expires_at, connected_at, oauth_email, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Name, t.Email, t.IMAPHost, t.IMAPPort, t.IMAPFolder,
		t.PollIntervalMins, t.RefreshTokenSealed, t.AccessTokenSealed,
		t.TokenExpiresAt, t.ConnectedAt, t.OAuthEmail, t.Active, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	t.ID = id

	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Store) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetTenantByEmail retrieves an active tenant whose contact or
// authorized mailbox address matches exactly (case-insensitive).
func (s *Store) GetTenantByEmail(ctx context.Context, email string) (*Tenant, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	t, err := scanTenant(s.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE active = 1 AND (LOWER(email) = ? OR LOWER(oauth_email) = ?)
		LIMIT 1
	`, email, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by email: %w", err)
	}
	return t, nil
}

// GetTenantByAliasPrefix retrieves an active tenant whose address
// local part is a prefix of the given local part, matching
// plus-addressed aliases like quotes+acme@ against quotes@.
func (s *Store) GetTenantByAliasPrefix(ctx context.Context, localPart string) (*Tenant, error) {
	localPart = strings.ToLower(strings.TrimSpace(localPart))
	if localPart == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants for alias match: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		local := t.Email
		if i := strings.IndexByte(local, '@'); i > 0 {
			local = local[:i]
		}
		local = strings.ToLower(local)
		if local != "" && strings.HasPrefix(localPart, local) {
			return t, nil
		}
	}
	return nil, rows.Err()
}

// GetFirstActiveTenant returns the lowest-id active tenant, used as
// the single-tenant fallback when address matching fails.
func (s *Store) GetFirstActiveTenant(ctx context.Context) (*Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE active = 1 ORDER BY id LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first active tenant: %w", err)
	}
	return t, nil
}

// ListActiveTenants returns all active tenants
func (s *Store) ListActiveTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenantCredentials writes a tenant's sealed credential bundle
func (s *Store) UpdateTenantCredentials(ctx context.Context, id int64, refreshSealed, accessSealed string, expiresAt, connectedAt *time.Time, oauthEmail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET refresh_token = ?, access_token = ?, token_expires_at = ?,
			connected_at = ?, oauth_email = ?
		WHERE id = ?
	`, refreshSealed, accessSealed, expiresAt, connectedAt, oauthEmail, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant credentials: %w", err)
	}
	return nil
}

// ClearTenantCredentials removes all stored tokens for the tenant,
// returning it to the disconnected state.
func (s *Store) ClearTenantCredentials(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET refresh_token = '', access_token = '', token_expires_at = NULL,
			connected_at = NULL, oauth_email = ''
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear tenant credentials: %w", err)
	}
	return nil
}
