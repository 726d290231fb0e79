package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const recordColumns = `id::text, original_name, url, storage_id, owner_id, visibility, resource_kind, uploaded_at, size_bytes, content_type, checksum`

// Repository provides access to file records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a record and returns it with its assigned id.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (original_name, url, storage_id, owner_id, visibility, resource_kind, uploaded_at, size_bytes, content_type, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + recordColumns + `;`

	stored, err := scanRecord(r.pool.QueryRow(ctx, query,
		rec.OriginalName,
		rec.URL,
		rec.StorageID,
		rec.OwnerID,
		rec.Visibility,
		rec.ResourceKind,
		rec.UploadedAt,
		rec.SizeBytes,
		rec.ContentType,
		rec.Checksum,
	))
	if err != nil {
		return Record{}, fmt.Errorf("create file record: %w", err)
	}
	return stored, nil
}

// ListVisible returns public records plus every record owned by callerID,
// newest first. An empty callerID yields public records only.
func (r *Repository) ListVisible(ctx context.Context, callerID string, page Page) ([]Record, error) {
	query := `
SELECT ` + recordColumns + `
FROM files
WHERE visibility = 'public' OR ($1 <> '' AND owner_id = $1)
ORDER BY uploaded_at DESC, id
LIMIT $2 OFFSET $3;`
	return r.list(ctx, "list visible files", query, callerID, limitArg(page), page.Offset)
}

// ListByOwner returns every record of ownerID, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, page Page) ([]Record, error) {
	query := `
SELECT ` + recordColumns + `
FROM files
WHERE owner_id = $1
ORDER BY uploaded_at DESC, id
LIMIT $2 OFFSET $3;`
	return r.list(ctx, "list owner files", query, ownerID, limitArg(page), page.Offset)
}

// ListExpired returns records uploaded strictly before cutoff, oldest first.
func (r *Repository) ListExpired(ctx context.Context, cutoff time.Time) ([]Record, error) {
	query := `
SELECT ` + recordColumns + `
FROM files
WHERE uploaded_at < $1
ORDER BY uploaded_at ASC, id;`
	return r.list(ctx, "list expired files", query, cutoff)
}

// Get fetches a single record.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM files WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get file record: %w", err)
	}
	return rec, nil
}

// UpdateVisibility changes the visibility of a record owned by ownerID.
func (r *Repository) UpdateVisibility(ctx context.Context, id, ownerID string, visibility Visibility) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE files
SET visibility = $3
WHERE id = $1 AND owner_id = $2
RETURNING ` + recordColumns + `;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id, ownerID, visibility))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("update file visibility: %w", err)
	}
	return rec, nil
}

// Delete removes a record and returns it.
func (r *Repository) Delete(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanRecord(r.pool.QueryRow(ctx, `DELETE FROM files WHERE id = $1 RETURNING `+recordColumns+`;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("delete file record: %w", err)
	}
	return rec, nil
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

func limitArg(page Page) any {
	if page.Limit <= 0 {
		return nil
	}
	return page.Limit
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OriginalName,
		&rec.URL,
		&rec.StorageID,
		&rec.OwnerID,
		&rec.Visibility,
		&rec.ResourceKind,
		&rec.UploadedAt,
		&rec.SizeBytes,
		&rec.ContentType,
		&rec.Checksum,
	)
	return rec, err
}
