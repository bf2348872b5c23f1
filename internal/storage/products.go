package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const productColumns = `id, tenant_id, name, description, rate_per_sq_in,
	formula, min_size_sq_in, max_size_sq_in, active`

func scanProduct(row interface{ Scan(...any) error }) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Description, &p.RatePerSqIn,
		&p.Formula, &p.MinSizeSqIn, &p.MaxSizeSqIn, &p.Active,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct stores a new catalog entry
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			tenant_id, name, description, rate_per_sq_in, formula,
			min_size_sq_in, max_size_sq_in, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.TenantID, p.Name, p.Description, p.RatePerSqIn, p.Formula,
		p.MinSizeSqIn, p.MaxSizeSqIn, p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id

	return nil
}

// GetProductByName finds an active product by case-insensitive name
// match within the tenant's catalog.
func (s *Store) GetProductByName(ctx context.Context, tenantID int64, name string) (*Product, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE tenant_id = ? AND active = 1 AND LOWER(name) = ?
		LIMIT 1
	`, tenantID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetFirstActiveProduct returns the lowest-id active product for the
// tenant, or nil when the catalog is empty.
func (s *Store) GetFirstActiveProduct(ctx context.Context, tenantID int64) (*Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE tenant_id = ? AND active = 1 ORDER BY id LIMIT 1
	`, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first product: %w", err)
	}
	return p, nil
}

// ListProducts returns all active products for the tenant
func (s *Store) ListProducts(ctx context.Context, tenantID int64) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE tenant_id = ? AND active = 1 ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
