package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HasInboundMessage reports whether a message with this id was already
// ingested for any tenant. Message ids are globally unique so this is
// the whole dedup check.
func (s *Store) HasInboundMessage(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbound_messages WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check inbound message: %w", err)
	}
	return n > 0, nil
}

// InsertInbound stores a newly ingested email
func (s *Store) InsertInbound(ctx context.Context, m *InboundMessage) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_messages (
			tenant_id, message_id, from_email, from_name, to_email,
			subject, body, received_at, in_reply_to, reference_ids,
			thread_id, is_reply_to_us, processed, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.TenantID, m.MessageID, m.FromEmail, m.FromName, m.ToEmail,
		m.Subject, m.Body, m.ReceivedAt, m.InReplyTo, m.References,
		m.ThreadID, m.IsReplyToUs, m.Processed, m.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inbound message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id

	return nil
}

// MarkInboundProcessed flags an inbound message as handled
func (s *Store) MarkInboundProcessed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbound_messages SET processed = 1, processed_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// ListUnprocessedInbound returns stored messages not yet handled for
// the tenant, oldest first.
func (s *Store) ListUnprocessedInbound(ctx context.Context, tenantID int64) ([]*InboundMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, message_id, from_email, from_name, to_email,
			   subject, body, received_at, in_reply_to, reference_ids,
			   thread_id, is_reply_to_us, processed, processed_at
		FROM inbound_messages
		WHERE tenant_id = ? AND processed = 0
		ORDER BY received_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed messages: %w", err)
	}
	defer rows.Close()

	var messages []*InboundMessage
	for rows.Next() {
		var m InboundMessage
		var processedAt sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.MessageID, &m.FromEmail, &m.FromName,
			&m.ToEmail, &m.Subject, &m.Body, &m.ReceivedAt, &m.InReplyTo,
			&m.References, &m.ThreadID, &m.IsReplyToUs, &m.Processed, &processedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan inbound message: %w", err)
		}
		if processedAt.Valid {
			m.ProcessedAt = &processedAt.Time
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// InsertOutbound records a sent (or failed) auto-reply
func (s *Store) InsertOutbound(ctx context.Context, m *OutboundMessage) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_messages (
			tenant_id, quote_id, inbound_id, to_email, subject, body,
			message_id, in_reply_to, thread_id, status, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.TenantID, m.QuoteID, m.InboundID, m.ToEmail, m.Subject, m.Body,
		m.MessageID, m.InReplyTo, m.ThreadID, m.Status, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbound message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id

	return nil
}

// HasMessageID reports whether an outbound message with this id exists.
// Satisfies the thread correlator's index interface.
func (s *Store) HasMessageID(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbound_messages WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check outbound message id: %w", err)
	}
	return n > 0, nil
}

// HasReplyInThread reports whether any delivered outbound message
// belongs to the thread or replies to the given source message.
// Failed sends do not count: the customer never saw them.
func (s *Store) HasReplyInThread(ctx context.Context, threadID, inReplyTo string) (bool, error) {
	if threadID == "" && inReplyTo == "" {
		return false, nil
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbound_messages
		WHERE status = 'sent'
		  AND ((? != '' AND thread_id = ?) OR (? != '' AND in_reply_to = ?))
	`, threadID, threadID, inReplyTo, inReplyTo).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check thread replies: %w", err)
	}
	return n > 0, nil
}
