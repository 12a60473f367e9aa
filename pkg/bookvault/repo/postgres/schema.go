package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL applied by EnsureSchema. Statements are idempotent so
// the server can run this on every startup.
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS bookvault`,
	`CREATE TABLE IF NOT EXISTS bookvault.books (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		file_name VARCHAR(255) NOT NULL,
		format VARCHAR(10) NOT NULL,
		size_bytes BIGINT NOT NULL,
		blob_key VARCHAR(512) NOT NULL,
		thumbnail_key VARCHAR(512),
		title VARCHAR(512),
		author VARCHAR(512),
		page_count INTEGER NOT NULL DEFAULT 0,
		language VARCHAR(32),
		status VARCHAR(20) NOT NULL DEFAULT 'created',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_owner ON bookvault.books (owner_id) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS bookvault.storage_usage (
		owner_id UUID PRIMARY KEY,
		used_bytes BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the bookvault schema and tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
