package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/evergreenpress/republisher/internal/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryRepository is the append-only store of republish attempts. The
// engine only ever inserts; records are never updated or deleted here
// (retention is an external housekeeping concern).
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a history repository on the given connection.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts one attempt record.
func (r *HistoryRepository) Append(ctx context.Context, rec *domain.HistoryRecord) error {
	query := `
		INSERT INTO republish_history
			(id, item_id, item_type, original_at, target_at, outcome, error_detail, duration_ms, trigger_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		rec.ID, rec.ItemID, rec.ItemType, rec.OriginalAt, rec.TargetAt,
		rec.Outcome, rec.ErrorDetail, rec.DurationMS, rec.TriggerSource, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}

	return nil
}

// SucceededBetween returns the ids of items with a success record created in
// [from, to). The selector uses this to exclude items already republished
// today.
func (r *HistoryRepository) SucceededBetween(ctx context.Context, from, to time.Time) (map[int64]struct{}, error) {
	ids := []int64{}
	query := `
		SELECT DISTINCT item_id
		FROM republish_history
		WHERE outcome = 'success' AND created_at >= $1 AND created_at < $2
	`

	err := r.db.SelectContext(ctx, &ids, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query succeeded items: %w", err)
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// List retrieves history records with optional filters, newest first.
func (r *HistoryRepository) List(ctx context.Context, filter *domain.HistoryFilter) ([]domain.HistoryRecord, error) {
	records := []domain.HistoryRecord{}

	if filter.Limit == 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}

	query := `
		SELECT id, item_id, item_type, original_at, target_at, outcome, error_detail, duration_ms, trigger_source, created_at
		FROM republish_history
		WHERE 1=1
	`

	args := []any{}
	argPos := 1

	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", argPos)
		args = append(args, filter.Outcome)
		argPos++
	}
	if filter.ItemID != 0 {
		query += fmt.Sprintf(" AND item_id = $%d", argPos)
		args = append(args, filter.ItemID)
		argPos++
	}
	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *filter.StartDate)
		argPos++
	}
	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *filter.EndDate)
		argPos++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	err := r.db.SelectContext(ctx, &records, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return records, nil
}

// StatsByOutcome returns attempt counts grouped by outcome since the given
// time. Used by the reporting endpoint, never by selection.
func (r *HistoryRepository) StatsByOutcome(ctx context.Context, since time.Time) (map[domain.Outcome]int, error) {
	query := `
		SELECT outcome, COUNT(*) AS count
		FROM republish_history
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.Outcome]int)
	for rows.Next() {
		var outcome domain.Outcome
		var count int
		if scanErr := rows.Scan(&outcome, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan row: %w", scanErr)
		}
		stats[outcome] = count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("row iteration error: %w", rowsErr)
	}

	return stats, nil
}
