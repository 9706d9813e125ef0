package domain

import (
	"fmt"
	"time"
)

// QuotaMode selects how the per-batch item quota is resolved.
type QuotaMode string

const (
	QuotaFixed      QuotaMode = "fixed"
	QuotaPercentage QuotaMode = "percentage"
)

// CategoryFilterMode selects how the category filter is applied.
type CategoryFilterMode string

const (
	CategoryFilterNone      CategoryFilterMode = "none"
	CategoryFilterWhitelist CategoryFilterMode = "whitelist"
	CategoryFilterBlacklist CategoryFilterMode = "blacklist"
)

// Quota and age bounds enforced at settings-validation time. The engine and
// selector assume settings that already passed Validate.
const (
	MaxQuota   = 50
	MinQuota   = 1
	MinAgeDays = 7
	MaxAgeDays = 180

	MinRateLimitWindow = time.Second
	DefaultRateWindow  = 24 * time.Hour

	hoursPerDay = 24
)

// Settings is an immutable per-batch configuration snapshot. It is loaded
// once at batch start so a running batch is never affected by a concurrent
// settings edit.
type Settings struct {
	EnabledTypes    []string           `db:"-" json:"enabled_types"`
	QuotaMode       QuotaMode          `db:"quota_mode"        json:"quota_mode"`
	QuotaValue      int                `db:"quota_value"       json:"quota_value"`
	WindowStartHour int                `db:"window_start_hour" json:"window_start_hour"`
	WindowEndHour   int                `db:"window_end_hour"   json:"window_end_hour"`
	MinItemAgeDays  int                `db:"min_age_days"      json:"min_age_days"`
	PreserveOrder   bool               `db:"preserve_order"    json:"preserve_order"`
	CategoryFilter  CategoryFilterMode `db:"category_filter"   json:"category_filter"`
	CategoryIDs     []int64            `db:"-" json:"category_ids"`
	Debug           bool               `db:"debug"   json:"debug"`
	DryRun          bool               `db:"dry_run" json:"dry_run"`

	// RateLimitWindow and RateLimitMax gate externally triggered batches.
	RateLimitWindow time.Duration `db:"-" json:"rate_limit_window"`
	RateLimitMax    int           `db:"rate_limit_max" json:"rate_limit_max"`

	// SiteKey and Timezone identify the site; the site key feeds the
	// deterministic timestamp randomizer, the timezone defines the civil
	// calendar for the publish window.
	SiteKey  string `db:"-" json:"site_key"`
	Timezone string `db:"-" json:"timezone"`
}

// Validate checks quota, window, age and rate-limit bounds. Invalid settings
// never reach the selector or engine.
func (s *Settings) Validate() error {
	if len(s.EnabledTypes) == 0 {
		return fmt.Errorf("%w: enabled_types must not be empty", ErrInvalidSettings)
	}
	switch s.QuotaMode {
	case QuotaFixed:
		if s.QuotaValue < MinQuota || s.QuotaValue > MaxQuota {
			return fmt.Errorf("%w: fixed quota must be between %d and %d, got %d",
				ErrInvalidSettings, MinQuota, MaxQuota, s.QuotaValue)
		}
	case QuotaPercentage:
		if s.QuotaValue < 1 || s.QuotaValue > 100 {
			return fmt.Errorf("%w: percentage quota must be between 1 and 100, got %d",
				ErrInvalidSettings, s.QuotaValue)
		}
	default:
		return fmt.Errorf("%w: unknown quota mode %q", ErrInvalidSettings, s.QuotaMode)
	}
	if s.WindowStartHour < 0 || s.WindowStartHour >= hoursPerDay {
		return fmt.Errorf("%w: window_start_hour out of range: %d", ErrInvalidSettings, s.WindowStartHour)
	}
	if s.WindowEndHour < 0 || s.WindowEndHour > hoursPerDay {
		return fmt.Errorf("%w: window_end_hour out of range: %d", ErrInvalidSettings, s.WindowEndHour)
	}
	if s.WindowEndHour <= s.WindowStartHour {
		return fmt.Errorf("%w: window end (%d) must be after window start (%d)",
			ErrInvalidSettings, s.WindowEndHour, s.WindowStartHour)
	}
	if s.MinItemAgeDays < MinAgeDays || s.MinItemAgeDays > MaxAgeDays {
		return fmt.Errorf("%w: min_age_days must be between %d and %d, got %d",
			ErrInvalidSettings, MinAgeDays, MaxAgeDays, s.MinItemAgeDays)
	}
	switch s.CategoryFilter {
	case CategoryFilterNone:
	case CategoryFilterWhitelist, CategoryFilterBlacklist:
		if len(s.CategoryIDs) == 0 {
			return fmt.Errorf("%w: category filter %q requires category_ids",
				ErrInvalidSettings, s.CategoryFilter)
		}
	default:
		return fmt.Errorf("%w: unknown category filter %q", ErrInvalidSettings, s.CategoryFilter)
	}
	if s.RateLimitWindow < MinRateLimitWindow {
		return fmt.Errorf("%w: rate_limit_window must be at least %v, got %v",
			ErrInvalidSettings, MinRateLimitWindow, s.RateLimitWindow)
	}
	if s.RateLimitMax < 1 {
		return fmt.Errorf("%w: rate_limit_max must be at least 1, got %d",
			ErrInvalidSettings, s.RateLimitMax)
	}
	if s.SiteKey == "" {
		return fmt.Errorf("%w: site_key is required", ErrInvalidSettings)
	}
	return nil
}

// Location resolves the site timezone, defaulting to UTC when unset.
func (s *Settings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrInvalidSettings, s.Timezone, err)
	}
	return loc, nil
}
