package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer is satisfied by *sql.DB, *sqlx.DB and their transactions.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres holds the schema for the pgx-backed store.
var Postgres = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		barcode TEXT UNIQUE,
		sku TEXT UNIQUE,
		name TEXT NOT NULL,
		cost_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		sale_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		stock_quantity NUMERIC(12,3) NOT NULL DEFAULT 0,
		min_stock NUMERIC(12,3) NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT 'un',
		tax_rate NUMERIC(6,4),
		is_active BOOLEAN NOT NULL DEFAULT true,
		track_stock BOOLEAN NOT NULL DEFAULT true,
		allow_negative_stock BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		customer_id BIGINT,
		user_id BIGINT,
		subtotal NUMERIC(12,2) NOT NULL,
		tax_amount NUMERIC(12,2) NOT NULL,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		total NUMERIC(12,2) NOT NULL,
		payment_method TEXT NOT NULL,
		cash_received NUMERIC(12,2),
		change_given NUMERIC(12,2),
		status TEXT NOT NULL DEFAULT 'completed',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales (created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id BIGINT,
		product_name TEXT NOT NULL,
		barcode TEXT,
		quantity NUMERIC(12,3) NOT NULL,
		unit_price NUMERIC(12,2) NOT NULL,
		discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		tax_rate NUMERIC(6,4) NOT NULL,
		tax_amount NUMERIC(12,2) NOT NULL,
		subtotal NUMERIC(12,2) NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		cost_price NUMERIC(12,2)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale_id ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		type TEXT NOT NULL,
		quantity NUMERIC(12,3) NOT NULL,
		previous_quantity NUMERIC(12,3) NOT NULL,
		new_quantity NUMERIC(12,3) NOT NULL,
		reference_type TEXT,
		reference_id BIGINT,
		cost_price NUMERIC(12,2),
		notes TEXT NOT NULL DEFAULT '',
		user_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// SQLite mirrors Postgres. Money and quantities are kept as TEXT so decimals
// round-trip without float drift; arithmetic on them happens in Go.
var SQLite = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		barcode TEXT UNIQUE,
		sku TEXT UNIQUE,
		name TEXT NOT NULL,
		cost_price TEXT NOT NULL DEFAULT '0',
		sale_price TEXT NOT NULL DEFAULT '0',
		stock_quantity TEXT NOT NULL DEFAULT '0',
		min_stock TEXT NOT NULL DEFAULT '0',
		unit TEXT NOT NULL DEFAULT 'un',
		tax_rate TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		track_stock INTEGER NOT NULL DEFAULT 1,
		allow_negative_stock INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_number TEXT NOT NULL UNIQUE,
		customer_id INTEGER,
		user_id INTEGER,
		subtotal TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		cash_received TEXT,
		change_given TEXT,
		status TEXT NOT NULL DEFAULT 'completed',
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales (created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL,
		product_id INTEGER,
		product_name TEXT NOT NULL,
		barcode TEXT,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		discount_percent TEXT NOT NULL DEFAULT '0',
		discount_amount TEXT NOT NULL DEFAULT '0',
		tax_rate TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		total TEXT NOT NULL,
		cost_price TEXT,
		FOREIGN KEY(sale_id) REFERENCES sales(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale_id ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		previous_quantity TEXT NOT NULL,
		new_quantity TEXT NOT NULL,
		reference_type TEXT,
		reference_id INTEGER,
		cost_price TEXT,
		notes TEXT NOT NULL DEFAULT '',
		user_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(product_id) REFERENCES products(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

// Apply runs every statement in order and stops at the first failure.
func Apply(ctx context.Context, db Execer, statements []string) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
