package sqlstore

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS drugs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		expiry_date {date} NOT NULL,
		purchase_price {money} NOT NULL,
		selling_price {money} NOT NULL,
		supplier TEXT NOT NULL,
		description TEXT,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_name ON customers (LOWER(name))`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id TEXT PRIMARY KEY,
		customer TEXT NOT NULL,
		prescribed_on {date} NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED')),
		total {money} NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prescription_items (
		prescription_id TEXT NOT NULL REFERENCES prescriptions(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		drug_id TEXT NOT NULL REFERENCES drugs(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price {money} NOT NULL,
		PRIMARY KEY (prescription_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		prescription_id TEXT REFERENCES prescriptions(id),
		idempotency_key TEXT UNIQUE,
		invoiced_on {date} NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('UNPAID', 'PAID')),
		total {money} NOT NULL,
		paid_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_prescription ON invoices (prescription_id)`,
	`CREATE TABLE IF NOT EXISTS invoice_items (
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		drug_id TEXT NOT NULL REFERENCES drugs(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price {money} NOT NULL,
		PRIMARY KEY (invoice_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_deductions (
		invoice_id TEXT PRIMARY KEY REFERENCES invoices(id),
		stock_deducted {bool} NOT NULL,
		prescription_id TEXT,
		recorded_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active {bool} NOT NULL,
		created_at {ts} NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if !s.d.postgres() {
		if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, s.d.ddl(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
