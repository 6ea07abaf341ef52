package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mutesky/api/internal/mutes"
	"mutesky/api/internal/selection"
)

// SyncRecord is one completed push of the muted-words list.
type SyncRecord struct {
	ID          string    `json:"id"`
	DID         string    `json:"did"`
	Muted       int       `json:"muted"`
	Unmuted     int       `json:"unmuted"`
	RemoteItems int       `json:"remoteItems"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TouchAccount creates the account row or refreshes its handle.
func (s *PostgresStore) TouchAccount(ctx context.Context, did, handle string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (did, handle)
		VALUES ($1, $2)
		ON CONFLICT (did) DO UPDATE
		SET handle = CASE WHEN EXCLUDED.handle = '' THEN accounts.handle ELSE EXCLUDED.handle END,
		    last_seen_at = NOW()
	`, did, handle)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSelection(ctx context.Context, did string, snapshot selection.Snapshot) error {
	payload, err := snapshot.Encode()
	if err != nil {
		return err
	}
	if err := s.TouchAccount(ctx, did, ""); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO selections (did, snapshot, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (did) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = NOW()
	`, did, string(payload))
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSelection(ctx context.Context, did string) (selection.Snapshot, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM selections WHERE did = $1`, did).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return selection.Snapshot{}, false, nil
	}
	if err != nil {
		return selection.Snapshot{}, false, fmt.Errorf("load selection: %w", err)
	}
	snapshot, err := selection.DecodeSnapshot(payload)
	if err != nil {
		return selection.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, did string, settings mutes.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.TouchAccount(ctx, did, ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mute_settings (did, duration, scope, exclude_follows, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (did) DO UPDATE
		SET duration = EXCLUDED.duration,
		    scope = EXCLUDED.scope,
		    exclude_follows = EXCLUDED.exclude_follows,
		    updated_at = NOW()
	`, did, string(settings.Duration), string(settings.Scope), settings.ExcludeFollows)
	if err != nil {
		return fmt.Errorf("save mute settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSettings(ctx context.Context, did string) (mutes.Settings, error) {
	var (
		duration, scope string
		settings        mutes.Settings
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT duration, scope, exclude_follows FROM mute_settings WHERE did = $1
	`, did).Scan(&duration, &scope, &settings.ExcludeFollows)
	if errors.Is(err, sql.ErrNoRows) {
		return mutes.DefaultSettings(), nil
	}
	if err != nil {
		return mutes.DefaultSettings(), fmt.Errorf("load mute settings: %w", err)
	}
	settings.Duration = mutes.Duration(duration)
	settings.Scope = mutes.Scope(scope)
	return settings, nil
}

func (s *PostgresStore) RecordSync(ctx context.Context, record SyncRecord) (SyncRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := s.TouchAccount(ctx, record.DID, ""); err != nil {
		return SyncRecord{}, err
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_history (id, did, muted, unmuted, remote_items, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, record.ID, record.DID, record.Muted, record.Unmuted, record.RemoteItems, record.Message).Scan(&record.CreatedAt)
	if err != nil {
		return SyncRecord{}, fmt.Errorf("record sync: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListSyncs(ctx context.Context, did string, limit int) ([]SyncRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, did, muted, unmuted, remote_items, message, created_at
		FROM sync_history
		WHERE did = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, did, limit)
	if err != nil {
		return nil, fmt.Errorf("list syncs: %w", err)
	}
	defer rows.Close()

	records := make([]SyncRecord, 0)
	for rows.Next() {
		var record SyncRecord
		if err := rows.Scan(&record.ID, &record.DID, &record.Muted, &record.Unmuted, &record.RemoteItems, &record.Message, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate syncs: %w", err)
	}
	return records, nil
}
