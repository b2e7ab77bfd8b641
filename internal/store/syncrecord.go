package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncStatus is the remote synchronization state of a local file.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// SyncRecord tracks one local file mirrored to the remote repository.
// It is written only by the sync client; the ledger never reads it.
type SyncRecord struct {
	UserID       string
	LocalPath    string
	RemotePath   string
	RemoteSHA    string
	SyncStatus   SyncStatus
	LastSyncedAt *time.Time
	LastError    string
}

// SyncRepo provides durable access to sync records.
type SyncRepo interface {
	// Record inserts or updates the sync record keyed by (user, local path).
	Record(ctx context.Context, rec *SyncRecord) error

	// ListByUser returns all sync records for a user, ordered by local path.
	ListByUser(ctx context.Context, userID string) ([]*SyncRecord, error)
}

type syncRepo struct {
	db *sql.DB
}

func (r *syncRepo) Record(ctx context.Context, rec *SyncRecord) error {
	const stmt = `
INSERT INTO sync_records
  (user_id, local_path, remote_path, remote_sha, sync_status, last_synced_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, local_path) DO UPDATE SET
  remote_path=excluded.remote_path,
  remote_sha=excluded.remote_sha,
  sync_status=excluded.sync_status,
  last_synced_at=excluded.last_synced_at,
  last_error=excluded.last_error;
`
	_, err := r.db.ExecContext(ctx, stmt,
		rec.UserID,
		rec.LocalPath,
		rec.RemotePath,
		nullStr(rec.RemoteSHA),
		string(rec.SyncStatus),
		nullTime(rec.LastSyncedAt),
		nullStr(rec.LastError),
	)
	if err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}
	return nil
}

func (r *syncRepo) ListByUser(ctx context.Context, userID string) ([]*SyncRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, local_path, remote_path, remote_sha, sync_status, last_synced_at, last_error
FROM sync_records
WHERE user_id = ?
ORDER BY local_path`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var recs []*SyncRecord
	for rows.Next() {
		var (
			rec      SyncRecord
			sha      sql.NullString
			status   string
			syncedAt sql.NullString
			lastErr  sql.NullString
		)
		err := rows.Scan(&rec.UserID, &rec.LocalPath, &rec.RemotePath,
			&sha, &status, &syncedAt, &lastErr)
		if err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		rec.RemoteSHA = sha.String
		rec.SyncStatus = SyncStatus(status)
		if rec.LastSyncedAt, err = parseNullTime(syncedAt); err != nil {
			return nil, fmt.Errorf("parse last_synced_at: %w", err)
		}
		rec.LastError = lastErr.String
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync records: %w", err)
	}
	return recs, nil
}
