package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/evergreenpress/republisher/internal/domain"
)

// SettingsRepository supplies the per-batch settings snapshot. Deployment
// defaults come from the config file; an optional single persisted row
// (edited by the host platform's admin surface, out of scope here) overrides
// them. The snapshot is read once per batch and never re-read mid-batch.
type SettingsRepository struct {
	db       *sqlx.DB
	defaults domain.Settings
}

// settingsRow mirrors the republish_settings table.
type settingsRow struct {
	EnabledTypes      pq.StringArray `db:"enabled_types"`
	QuotaMode         string         `db:"quota_mode"`
	QuotaValue        int            `db:"quota_value"`
	WindowStartHour   int            `db:"window_start_hour"`
	WindowEndHour     int            `db:"window_end_hour"`
	MinAgeDays        int            `db:"min_age_days"`
	PreserveOrder     bool           `db:"preserve_order"`
	CategoryFilter    string         `db:"category_filter"`
	CategoryIDs       pq.Int64Array  `db:"category_ids"`
	Debug             bool           `db:"debug"`
	DryRun            bool           `db:"dry_run"`
	RateLimitWindowMS int64          `db:"rate_limit_window_ms"`
	RateLimitMax      int            `db:"rate_limit_max"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// NewSettingsRepository creates a settings provider with the given defaults.
func NewSettingsRepository(db *sqlx.DB, defaults domain.Settings) *SettingsRepository {
	return &SettingsRepository{db: db, defaults: defaults}
}

// Snapshot returns a validated settings copy for one batch. When no
// persisted row exists the config defaults are used as-is.
func (r *SettingsRepository) Snapshot(ctx context.Context) (*domain.Settings, error) {
	var row settingsRow
	query := `
		SELECT enabled_types, quota_mode, quota_value, window_start_hour, window_end_hour,
		       min_age_days, preserve_order, category_filter, category_ids,
		       debug, dry_run, rate_limit_window_ms, rate_limit_max, updated_at
		FROM republish_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		snapshot := r.defaults
		return &snapshot, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings snapshot: %w", err)
	}

	snapshot := r.defaults
	snapshot.EnabledTypes = []string(row.EnabledTypes)
	snapshot.QuotaMode = domain.QuotaMode(row.QuotaMode)
	snapshot.QuotaValue = row.QuotaValue
	snapshot.WindowStartHour = row.WindowStartHour
	snapshot.WindowEndHour = row.WindowEndHour
	snapshot.MinItemAgeDays = row.MinAgeDays
	snapshot.PreserveOrder = row.PreserveOrder
	snapshot.CategoryFilter = domain.CategoryFilterMode(row.CategoryFilter)
	snapshot.CategoryIDs = []int64(row.CategoryIDs)
	snapshot.Debug = row.Debug
	snapshot.DryRun = row.DryRun
	snapshot.RateLimitWindow = time.Duration(row.RateLimitWindowMS) * time.Millisecond
	snapshot.RateLimitMax = row.RateLimitMax

	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("persisted settings: %w", err)
	}

	return &snapshot, nil
}
