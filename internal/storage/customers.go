package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EnsureCustomer returns the customer record for the sender, creating
// one on first contact. The created flag distinguishes new customers
// from returning ones.
func (s *Store) EnsureCustomer(ctx context.Context, tenantID int64, email, name string) (*Customer, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var c Customer
	var lastQuoted sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, name, last_quoted_at, created_at
		FROM customers WHERE tenant_id = ? AND email = ?
	`, tenantID, email).Scan(
		&c.ID, &c.TenantID, &c.Email, &c.Name, &lastQuoted, &c.CreatedAt,
	)
	if err == nil {
		if lastQuoted.Valid {
			c.LastQuotedAt = &lastQuoted.Time
		}
		// Backfill the name when we learn it later.
		if c.Name == "" && name != "" {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE customers SET name = ? WHERE id = ?`, name, c.ID); err == nil {
				c.Name = name
			}
		}
		return &c, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up customer: %w", err)
	}

	c = Customer{
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (tenant_id, email, name, created_at)
		VALUES (?, ?, ?, ?)
	`, c.TenantID, c.Email, c.Name, c.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create customer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id

	return &c, true, nil
}

// TouchCustomerQuoted records that a quote was just issued to the
// customer.
func (s *Store) TouchCustomerQuoted(ctx context.Context, customerID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE customers SET last_quoted_at = ? WHERE id = ?`, at, customerID)
	if err != nil {
		return fmt.Errorf("failed to touch customer: %w", err)
	}
	return nil
}
