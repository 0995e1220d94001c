// Package records persists modification and export records in SQLite.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audio-studio/internal/studio"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Export statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Repository errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidStatus = errors.New("invalid export status")
)

const schema = `
CREATE TABLE IF NOT EXISTS modifications (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL,
	user_id           TEXT NOT NULL DEFAULT '',
	audio_key         TEXT NOT NULL,
	effects           TEXT NOT NULL,
	background_sound  TEXT NOT NULL DEFAULT '',
	background_volume REAL,
	duration_seconds  REAL NOT NULL DEFAULT 0,
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_modifications_conversation ON modifications(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS exports (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	modification_id TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	format          TEXT NOT NULL,
	quality         TEXT NOT NULL,
	status          TEXT NOT NULL,
	file_key        TEXT NOT NULL DEFAULT '',
	download_url    TEXT NOT NULL DEFAULT '',
	share_url       TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
`

// ExportRecord tracks one transcoding job.
type ExportRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	ModificationID string    `json:"modificationId,omitempty"`
	Title          string    `json:"title"`
	Format         string    `json:"format"`
	Quality        string    `json:"quality"`
	Status         string    `json:"status"`
	FileKey        string    `json:"fileKey,omitempty"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	ShareURL       string    `json:"shareUrl,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ExportUpdate carries the outcome of a finished export.
type ExportUpdate struct {
	Status      string
	FileKey     string
	DownloadURL string
	ShareURL    string
	Error       string
}

// Repository is a SQLite-backed record store.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// A single connection keeps in-memory databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	pingErr := db.PingContext(ctx)
	if pingErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping sqlite db: %w", pingErr)
	}

	_, execErr := db.ExecContext(ctx, schema)
	if execErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to apply schema: %w", execErr)
	}

	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveModification inserts a new record. Existing IDs are rejected.
func (r *Repository) SaveModification(ctx context.Context, record studio.ModificationRecord) error {
	effects, err := json.Marshal(record.Effects)
	if err != nil {
		return fmt.Errorf("failed to marshal effects: %w", err)
	}

	var volume sql.NullFloat64
	if record.BackgroundVolume != nil {
		volume = sql.NullFloat64{Float64: *record.BackgroundVolume, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO modifications (id, conversation_id, user_id, audio_key, effects,
			background_sound, background_volume, duration_seconds, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ConversationID, record.UserID, record.AudioKey, string(effects),
		record.BackgroundSound, volume, record.DurationSeconds, record.SizeBytes, record.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert modification %s: %w", record.ID, err)
	}

	return nil
}

// GetModification loads one record.
func (r *Repository) GetModification(ctx context.Context, id string) (studio.ModificationRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, audio_key, effects, background_sound,
			background_volume, duration_seconds, size_bytes, created_at
		FROM modifications WHERE id = ?`, id)

	record, err := scanModification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return studio.ModificationRecord{}, fmt.Errorf("%w: modification %s", ErrNotFound, id)
	}

	return record, err
}

// ListModifications returns a conversation's records, newest first.
func (r *Repository) ListModifications(ctx context.Context, conversationID string) ([]studio.ModificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, audio_key, effects, background_sound,
			background_volume, duration_seconds, size_bytes, created_at
		FROM modifications WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modifications: %w", err)
	}
	defer rows.Close()

	var out []studio.ModificationRecord

	for rows.Next() {
		record, scanErr := scanModification(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		out = append(out, record)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate modifications: %w", rowsErr)
	}

	return out, nil
}

// SaveExport inserts a new export in the processing state.
func (r *Repository) SaveExport(ctx context.Context, record ExportRecord) (ExportRecord, error) {
	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = record.CreatedAt
	if record.Status == "" {
		record.Status = StatusProcessing
	}

	statusErr := validateStatus(record.Status)
	if statusErr != nil {
		return ExportRecord{}, statusErr
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, user_id, conversation_id, modification_id, title, format, quality,
			status, file_key, download_url, share_url, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.ConversationID, record.ModificationID, record.Title,
		record.Format, record.Quality, record.Status, record.FileKey, record.DownloadURL,
		record.ShareURL, record.Error, record.CreatedAt.UnixNano(), record.UpdatedAt.UnixNano())
	if err != nil {
		return ExportRecord{}, fmt.Errorf("failed to insert export %s: %w", record.ID, err)
	}

	return record, nil
}

// UpdateExportStatus records the outcome of an export job.
func (r *Repository) UpdateExportStatus(ctx context.Context, id string, update ExportUpdate) error {
	statusErr := validateStatus(update.Status)
	if statusErr != nil {
		return statusErr
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = ?, file_key = ?, download_url = ?, share_url = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		update.Status, update.FileKey, update.DownloadURL, update.ShareURL, update.Error,
		r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update export %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for export %s: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: export %s", ErrNotFound, id)
	}

	return nil
}

// GetExport loads one export record.
func (r *Repository) GetExport(ctx context.Context, id string) (ExportRecord, error) {
	var (
		record             ExportRecord
		created, updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, conversation_id, modification_id, title, format, quality, status,
			file_key, download_url, share_url, error, created_at, updated_at
		FROM exports WHERE id = ?`, id).Scan(
		&record.ID, &record.UserID, &record.ConversationID, &record.ModificationID, &record.Title,
		&record.Format, &record.Quality, &record.Status, &record.FileKey, &record.DownloadURL,
		&record.ShareURL, &record.Error, &created, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ExportRecord{}, fmt.Errorf("%w: export %s", ErrNotFound, id)
	}

	if err != nil {
		return ExportRecord{}, fmt.Errorf("failed to load export %s: %w", id, err)
	}

	record.CreatedAt = time.Unix(0, created).UTC()
	record.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModification(row scanner) (studio.ModificationRecord, error) {
	var (
		record  studio.ModificationRecord
		effects string
		volume  sql.NullFloat64
		created int64
	)

	err := row.Scan(&record.ID, &record.ConversationID, &record.UserID, &record.AudioKey, &effects,
		&record.BackgroundSound, &volume, &record.DurationSeconds, &record.SizeBytes, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, err
		}

		return record, fmt.Errorf("failed to scan modification: %w", err)
	}

	unmarshalErr := json.Unmarshal([]byte(effects), &record.Effects)
	if unmarshalErr != nil {
		return record, fmt.Errorf("failed to unmarshal effects for %s: %w", record.ID, unmarshalErr)
	}

	if volume.Valid {
		v := volume.Float64
		record.BackgroundVolume = &v
	}

	record.CreatedAt = time.Unix(0, created).UTC()

	return record, nil
}

func validateStatus(status string) error {
	switch status {
	case StatusProcessing, StatusCompleted, StatusError:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}
