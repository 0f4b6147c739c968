package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/windfall/voicecoach_service/internal/client"
)

// JournalRecord is the persisted summary of one history entry. Audio and
// the full report live in the archive, not here.
type JournalRecord struct {
	ID                string          `json:"id"`
	Category          string          `json:"category"`
	RecordedAt        time.Time       `json:"recorded_at"`
	DurationSeconds   *float64        `json:"duration_seconds,omitempty"`
	MIMEType          string          `json:"mime_type"`
	SizeBytes         int             `json:"size_bytes"`
	ConversationScore float64         `json:"conversation_score"`
	Summary           json.RawMessage `json:"summary"`
	CreatedAt         time.Time       `json:"created_at"`
}

// JournalRepository stores journal records.
type JournalRepository interface {
	Insert(ctx context.Context, rec *JournalRecord) (bool, error)
	GetByID(ctx context.Context, id string) (*JournalRecord, error)
	List(ctx context.Context, category string, limit, offset int) ([]*JournalRecord, int, error)
}

type PostgresJournalRepository struct {
	db *client.PostgresClient
}

func NewPostgresJournalRepository(db *client.PostgresClient) *PostgresJournalRepository {
	return &PostgresJournalRepository{db: db}
}

// Insert writes rec once. A record whose id already exists is left alone and
// Insert reports false.
func (r *PostgresJournalRepository) Insert(ctx context.Context, rec *JournalRecord) (bool, error) {
	if r.db == nil || r.db.Pool == nil {
		return false, ErrNotConfigured
	}

	query := `
		INSERT INTO analysis_journal (
			id, category, recorded_at, duration_seconds, mime_type, size_bytes, conversation_score, summary
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.ID,
		rec.Category,
		rec.RecordedAt,
		rec.DurationSeconds,
		rec.MIMEType,
		rec.SizeBytes,
		rec.ConversationScore,
		rec.Summary,
	).Scan(&rec.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert journal record: %w", err)
	}
	return true, nil
}

func (r *PostgresJournalRepository) GetByID(ctx context.Context, id string) (*JournalRecord, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, ErrNotConfigured
	}

	query := `
		SELECT id, category, recorded_at, duration_seconds, mime_type, size_bytes, conversation_score, summary, created_at
		FROM analysis_journal
		WHERE id = $1
	`

	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal record: %w", err)
	}
	return rec, nil
}

// List returns records most recent first. An empty category matches all.
func (r *PostgresJournalRepository) List(ctx context.Context, category string, limit, offset int) ([]*JournalRecord, int, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, 0, ErrNotConfigured
	}

	// Get total count
	var total int
	countQuery := `SELECT COUNT(*) FROM analysis_journal WHERE $1::text = '' OR category = $1`
	if err := r.db.Pool.QueryRow(ctx, countQuery, category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count journal records: %w", err)
	}

	query := `
		SELECT id, category, recorded_at, duration_seconds, mime_type, size_bytes, conversation_score, summary, created_at
		FROM analysis_journal
		WHERE $1::text = '' OR category = $1
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, category, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list journal records: %w", err)
	}
	defer rows.Close()

	records := make([]*JournalRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan journal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list journal records: %w", err)
	}

	return records, total, nil
}

func scanRecord(row pgx.Row) (*JournalRecord, error) {
	var rec JournalRecord
	err := row.Scan(
		&rec.ID,
		&rec.Category,
		&rec.RecordedAt,
		&rec.DurationSeconds,
		&rec.MIMEType,
		&rec.SizeBytes,
		&rec.ConversationScore,
		&rec.Summary,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
