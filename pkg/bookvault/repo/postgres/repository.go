// Package postgres provides a PostgreSQL repository backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the repository can
// run inside a caller-supplied transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements bookvault.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "books") {
				return fmt.Errorf("book already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return bookvault.ErrBookNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// CreateBook inserts the book record and charges the owner's usage row in a
// single transaction. The usage row is locked so concurrent uploads by the
// same owner serialize on the quota check.
func (r *Repository) CreateBook(ctx context.Context, book *bookvault.Book, quotaBytes int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("create book", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bookvault.storage_usage (owner_id, used_bytes)
		VALUES ($1, 0)
		ON CONFLICT (owner_id) DO NOTHING`, book.OwnerID)
	if err != nil {
		return r.handlePostgresError("create book", err)
	}

	var used int64
	err = tx.QueryRow(ctx, `
		SELECT used_bytes FROM bookvault.storage_usage
		WHERE owner_id = $1 FOR UPDATE`, book.OwnerID).Scan(&used)
	if err != nil {
		return r.handlePostgresError("create book", err)
	}

	if quotaBytes > 0 && used+book.SizeBytes > quotaBytes {
		return bookvault.ErrQuotaExceeded
	}

	_, err = tx.Exec(ctx, `
		UPDATE bookvault.storage_usage
		SET used_bytes = used_bytes + $2, updated_at = NOW()
		WHERE owner_id = $1`, book.OwnerID, book.SizeBytes)
	if err != nil {
		return r.handlePostgresError("create book", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookvault.books (
			id, owner_id, file_name, format, size_bytes, blob_key,
			thumbnail_key, title, author, page_count, language, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		book.ID, book.OwnerID, book.FileName, book.Format, book.SizeBytes,
		book.BlobKey, book.ThumbnailKey, book.Title, book.Author,
		book.PageCount, book.Language, book.Status, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create book", err)
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetBook(ctx context.Context, id uuid.UUID) (*bookvault.Book, error) {
	query := `
        SELECT id, owner_id, file_name, format, size_bytes, blob_key,
               thumbnail_key, title, author, page_count, language, status,
               created_at, updated_at
        FROM bookvault.books WHERE id = $1 AND deleted_at IS NULL`

	var book bookvault.Book
	err := r.db.QueryRow(ctx, query, id).Scan(
		&book.ID, &book.OwnerID, &book.FileName, &book.Format, &book.SizeBytes,
		&book.BlobKey, &book.ThumbnailKey, &book.Title, &book.Author,
		&book.PageCount, &book.Language, &book.Status,
		&book.CreatedAt, &book.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bookvault.ErrBookNotFound
		}
		return nil, r.handlePostgresError("get book", err)
	}

	return &book, nil
}

func (r *Repository) UpdateBook(ctx context.Context, book *bookvault.Book) error {
	query := `
		UPDATE bookvault.books SET
			file_name = $2, format = $3, thumbnail_key = $4, title = $5,
			author = $6, page_count = $7, language = $8, status = $9,
			updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		book.ID, book.FileName, book.Format, book.ThumbnailKey, book.Title,
		book.Author, book.PageCount, book.Language, book.Status, book.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update book", err)
	}
	if tag.RowsAffected() == 0 {
		return bookvault.ErrBookNotFound
	}

	return nil
}

// DeleteBook soft-deletes the record and releases its bytes from the owner's
// usage row, in one transaction.
func (r *Repository) DeleteBook(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("delete book", err)
	}
	defer tx.Rollback(ctx)

	var ownerID uuid.UUID
	var sizeBytes int64
	err = tx.QueryRow(ctx, `
		UPDATE bookvault.books
		SET status = $2, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING owner_id, size_bytes`, id, bookvault.BookStatusDeleted).
		Scan(&ownerID, &sizeBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bookvault.ErrBookNotFound
		}
		return r.handlePostgresError("delete book", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bookvault.storage_usage
		SET used_bytes = GREATEST(used_bytes - $2, 0), updated_at = NOW()
		WHERE owner_id = $1`, ownerID, sizeBytes)
	if err != nil {
		return r.handlePostgresError("delete book", err)
	}

	return tx.Commit(ctx)
}

func (r *Repository) ListBooks(ctx context.Context, ownerID uuid.UUID) ([]*bookvault.Book, error) {
	query := `
        SELECT id, owner_id, file_name, format, size_bytes, blob_key,
               thumbnail_key, title, author, page_count, language, status,
               created_at, updated_at
        FROM bookvault.books WHERE owner_id = $1 AND deleted_at IS NULL
        ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list books", err)
	}
	defer rows.Close()

	var books []*bookvault.Book
	for rows.Next() {
		var book bookvault.Book
		if err := rows.Scan(
			&book.ID, &book.OwnerID, &book.FileName, &book.Format, &book.SizeBytes,
			&book.BlobKey, &book.ThumbnailKey, &book.Title, &book.Author,
			&book.PageCount, &book.Language, &book.Status,
			&book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, err
		}
		books = append(books, &book)
	}

	return books, nil
}

func (r *Repository) GetStorageUsage(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var used int64
	err := r.db.QueryRow(ctx, `
		SELECT used_bytes FROM bookvault.storage_usage WHERE owner_id = $1`,
		ownerID).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, r.handlePostgresError("get storage usage", err)
	}
	return used, nil
}
