package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertQuote stores a newly priced quote
func (s *Store) InsertQuote(ctx context.Context, q *Quote) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	if q.Status == "" {
		q.Status = QuoteStatusPending
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (
			tenant_id, quote_number, customer_id, product_id,
			length_in, width_in, area_sq_in, unit_price, total_price,
			status, pdf_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		q.TenantID, q.Number, q.CustomerID, q.ProductID,
		q.LengthIn, q.WidthIn, q.AreaSqIn, q.UnitPrice, q.TotalPrice,
		q.Status, q.PDFPath, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	q.ID = id

	return nil
}

// GetQuote retrieves a quote by ID
func (s *Store) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	var q Quote
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, quote_number, customer_id, product_id,
			   length_in, width_in, area_sq_in, unit_price, total_price,
			   status, pdf_path, created_at
		FROM quotes WHERE id = ?
	`, id).Scan(
		&q.ID, &q.TenantID, &q.Number, &q.CustomerID, &q.ProductID,
		&q.LengthIn, &q.WidthIn, &q.AreaSqIn, &q.UnitPrice, &q.TotalPrice,
		&q.Status, &q.PDFPath, &q.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return &q, nil
}

// UpdateQuotePDF records the rendered document path
func (s *Store) UpdateQuotePDF(ctx context.Context, id int64, pdfPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET pdf_path = ? WHERE id = ?`, pdfPath, id)
	if err != nil {
		return fmt.Errorf("failed to update quote pdf: %w", err)
	}
	return nil
}

// UpdateQuoteStatus moves the quote to a new lifecycle state
func (s *Store) UpdateQuoteStatus(ctx context.Context, id int64, status QuoteStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update quote status: %w", err)
	}
	return nil
}
