package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	ErrShareNotFound = errors.New("share not found")
	ErrFileNotFound  = errors.New("file not found")
	// ErrFileLimit is returned by AddFile when the share already holds the
	// maximum number of active files.
	ErrFileLimit = errors.New("active file limit reached")
)

const shareColumns = "id, identifier, password_hash, duration_seconds, expires_at, created_at"
const fileColumns = "id, share_id, original_name, stored_key, size, mime_type, duration_seconds, expires_at, created_at"

// Repository provides CRUD and invariant enforcement over shares and files.
//
// Per-identifier mutations (AddFile, SweepShare) run inside a transaction
// that locks the owning share row, so concurrent operations on the same
// identifier serialize while distinct identifiers proceed in parallel.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func scanShare(row pgx.Row) (*Share, error) {
	share := &Share{}
	err := row.Scan(
		&share.ID,
		&share.Identifier,
		&share.PasswordHash,
		&share.DurationSeconds,
		&share.ExpiresAt,
		&share.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return share, nil
}

func scanFile(row pgx.Row) (*File, error) {
	file := &File{}
	err := row.Scan(
		&file.ID,
		&file.ShareID,
		&file.OriginalName,
		&file.StoredKey,
		&file.Size,
		&file.MimeType,
		&file.DurationSeconds,
		&file.ExpiresAt,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// FindOrCreateShare returns the share for identifier, creating it if absent.
// Creation is a single INSERT .. ON CONFLICT DO NOTHING, so concurrent calls
// with the same identifier never produce two rows; the loser of the race
// reads the winner's row. Password hash and expiry are only applied on
// creation, an existing share is returned unchanged.
func (r *Repository) FindOrCreateShare(ctx context.Context, identifier string, passwordHash *string, durationSeconds *int, expiresAt *time.Time) (*Share, error) {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (identifier, password_hash, duration_seconds, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO NOTHING
	`, identifier, passwordHash, durationSeconds, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create share: %w", err)
	}

	return r.GetShareByIdentifier(ctx, identifier)
}

// GetShareByIdentifier retrieves a share by its identifier.
func (r *Repository) GetShareByIdentifier(ctx context.Context, identifier string) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE identifier = $1", identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return share, nil
}

// GetShareByID retrieves a share by its primary key.
func (r *Repository) GetShareByID(ctx context.Context, id int64) (*Share, error) {
	share, err := scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return share, nil
}

// RemovePassword clears the password hash and the share's own lifetime,
// transitioning it to an unprotected share that survives only through its
// active files.
func (r *Repository) RemovePassword(ctx context.Context, shareID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE shares SET password_hash = NULL, duration_seconds = NULL, expires_at = NULL
		WHERE id = $1
	`, shareID)
	if err != nil {
		return fmt.Errorf("failed to remove password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// DeleteShare removes a share record. File rows go with it via the cascading
// foreign key. Deleting an already-absent share is a no-op.
func (r *Repository) DeleteShare(ctx context.Context, shareID int64) error {
	_, err := r.db.Pool.Exec(ctx, "DELETE FROM shares WHERE id = $1", shareID)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

// AddFile performs the lazy sweep and the capped insert as one atomic unit:
// it locks the share row, deletes the share's expired files, re-counts the
// active files and inserts only if the count is below maxActive. The stored
// keys of swept files are returned so the caller can drop their blobs.
// Returns ErrFileLimit when the cap is hit (the sweep still commits).
func (r *Repository) AddFile(ctx context.Context, file *File, maxActive int) (sweptKeys []string, err error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var shareID int64
	err = tx.QueryRow(ctx, "SELECT id FROM shares WHERE id = $1 FOR UPDATE", file.ShareID).Scan(&shareID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to lock share: %w", err)
	}

	sweptKeys, err = deleteExpiredFilesTx(ctx, tx, shareID)
	if err != nil {
		return nil, err
	}

	var active int
	err = tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM files WHERE share_id = $1 AND expires_at > NOW()", shareID,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("failed to count active files: %w", err)
	}

	if active >= maxActive {
		// Keep the sweep, reject the insert.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return sweptKeys, ErrFileLimit
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO files (share_id, original_name, stored_key, size, mime_type, duration_seconds, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		file.ShareID,
		file.OriginalName,
		file.StoredKey,
		file.Size,
		file.MimeType,
		file.DurationSeconds,
		file.ExpiresAt,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sweptKeys, nil
}

// SweepShare is the lazy garbage collector for a single share. Inside one
// transaction it removes the share's expired files, then removes the share
// itself if it is an expired protected share or an unprotected share with
// no active files left. Sweeping an absent share is a no-op.
func (r *Repository) SweepShare(ctx context.Context, shareID int64) (sweptKeys []string, shareDeleted bool, err error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var passwordHash *string
	var expiresAt *time.Time
	err = tx.QueryRow(ctx,
		"SELECT password_hash, expires_at FROM shares WHERE id = $1 FOR UPDATE", shareID,
	).Scan(&passwordHash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to lock share: %w", err)
	}

	expired := expiresAt != nil && !time.Now().Before(*expiresAt)
	if expired {
		// The share's own lifetime has passed: everything goes.
		rows, err := tx.Query(ctx, "SELECT stored_key FROM files WHERE share_id = $1", shareID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list file keys: %w", err)
		}
		sweptKeys, err = collectKeys(rows)
		if err != nil {
			return nil, false, err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM shares WHERE id = $1", shareID); err != nil {
			return nil, false, fmt.Errorf("failed to delete share: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return sweptKeys, true, nil
	}

	sweptKeys, err = deleteExpiredFilesTx(ctx, tx, shareID)
	if err != nil {
		return nil, false, err
	}

	if passwordHash == nil {
		var active int
		err = tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM files WHERE share_id = $1 AND expires_at > NOW()", shareID,
		).Scan(&active)
		if err != nil {
			return nil, false, fmt.Errorf("failed to count active files: %w", err)
		}
		if active == 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM shares WHERE id = $1", shareID); err != nil {
				return nil, false, fmt.Errorf("failed to delete share: %w", err)
			}
			shareDeleted = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sweptKeys, shareDeleted, nil
}

func deleteExpiredFilesTx(ctx context.Context, tx pgx.Tx, shareID int64) ([]string, error) {
	rows, err := tx.Query(ctx,
		"DELETE FROM files WHERE share_id = $1 AND expires_at <= NOW() RETURNING stored_key", shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired files: %w", err)
	}
	return collectKeys(rows)
}

func collectKeys(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan stored key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetFile retrieves a file by its ID.
func (r *Repository) GetFile(ctx context.Context, id int64) (*File, error) {
	file, err := scanFile(r.db.Pool.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// DeleteFile removes a file record by ID.
func (r *Repository) DeleteFile(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// ActiveFiles returns the share's files whose expiration is still in the
// future, in insertion order.
func (r *Repository) ActiveFiles(ctx context.Context, shareID int64) ([]*File, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files WHERE share_id = $1 AND expires_at > NOW() ORDER BY id", shareID)
}

// ShareFiles returns all files of a share, expired ones included.
func (r *Repository) ShareFiles(ctx context.Context, shareID int64) ([]*File, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files WHERE share_id = $1 ORDER BY id", shareID)
}

// ExpiredFiles returns all files whose expiration time has passed.
func (r *Repository) ExpiredFiles(ctx context.Context) ([]*File, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files WHERE expires_at <= NOW() ORDER BY id")
}

func (r *Repository) queryFiles(ctx context.Context, sql string, args ...any) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ExpiredShares returns all shares whose own expiration time has passed.
func (r *Repository) ExpiredShares(ctx context.Context) ([]*Share, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE expires_at IS NOT NULL AND expires_at <= NOW() ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query expired shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM shares),
			(SELECT COUNT(*) FROM shares WHERE password_hash IS NOT NULL),
			(SELECT COUNT(*) FROM files WHERE expires_at > NOW()),
			(SELECT COALESCE(SUM(size), 0) FROM files WHERE expires_at > NOW())
	`).Scan(
		&stats.TotalShares,
		&stats.ProtectedShares,
		&stats.ActiveFiles,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
