package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store provides database operations
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			imap_host TEXT NOT NULL DEFAULT 'imap.gmail.com',
			imap_port INTEGER NOT NULL DEFAULT 993,
			imap_folder TEXT NOT NULL DEFAULT 'INBOX',
			poll_interval_minutes INTEGER NOT NULL DEFAULT 10,
			refresh_token TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			token_expires_at DATETIME,
			connected_at DATETIME,
			oauth_email TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_active ON tenants(active)`,

		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			rate_per_sq_in REAL NOT NULL DEFAULT 0,
			formula TEXT NOT NULL DEFAULT '',
			min_size_sq_in REAL NOT NULL DEFAULT 0,
			max_size_sq_in REAL NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id)`,

		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			last_quoted_at DATETIME,
			created_at DATETIME NOT NULL,
			UNIQUE (tenant_id, email),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS inbound_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			message_id TEXT NOT NULL UNIQUE,
			from_email TEXT NOT NULL,
			from_name TEXT NOT NULL DEFAULT '',
			to_email TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL,
			in_reply_to TEXT NOT NULL DEFAULT '',
			reference_ids TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			is_reply_to_us INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			processed_at DATETIME,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_tenant ON inbound_messages(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_processed ON inbound_messages(processed)`,

		`CREATE TABLE IF NOT EXISTS outbound_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			quote_id INTEGER,
			inbound_id INTEGER,
			to_email TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL,
			in_reply_to TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'sent',
			sent_at DATETIME NOT NULL,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE,
			FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE SET NULL,
			FOREIGN KEY (inbound_id) REFERENCES inbound_messages(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_message_id ON outbound_messages(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_thread ON outbound_messages(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_in_reply_to ON outbound_messages(in_reply_to)`,

		`CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			quote_number TEXT NOT NULL UNIQUE,
			customer_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			length_in REAL NOT NULL,
			width_in REAL NOT NULL,
			area_sq_in REAL NOT NULL,
			unit_price REAL NOT NULL,
			total_price REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			pdf_path TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE,
			FOREIGN KEY (customer_id) REFERENCES customers(id),
			FOREIGN KEY (product_id) REFERENCES products(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_tenant ON quotes(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_customer ON quotes(customer_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}
