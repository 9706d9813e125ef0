// Package selector computes the eligible-item set and the per-batch quota.
// It is a pure read over the item and history stores; it never mutates.
package selector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
)

const percentDenominator = 100

// ItemReader is the slice of the item store the selector needs.
type ItemReader interface {
	// QueryItems returns published items of the given types at least
	// minAgeDays old.
	QueryItems(ctx context.Context, types []string, minAgeDays int) ([]domain.Item, error)

	// Categories returns the category ids an item belongs to.
	Categories(ctx context.Context, itemID int64) ([]int64, error)
}

// HistoryReader is the slice of the history store the selector needs.
type HistoryReader interface {
	// SucceededBetween returns the ids of items with a success record in
	// the half-open interval [from, to).
	SucceededBetween(ctx context.Context, from, to time.Time) (map[int64]struct{}, error)
}

// Selector applies the eligibility predicate and quota math.
type Selector struct {
	items   ItemReader
	history HistoryReader
	logger  logger.Logger
	now     func() time.Time
}

// New creates a selector over the given stores.
func New(items ItemReader, history HistoryReader, log logger.Logger) *Selector {
	return &Selector{
		items:   items,
		history: history,
		logger:  log,
		now:     time.Now,
	}
}

// WithClock overrides the selector's clock. Tests only.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// SelectEligible returns the full eligible set ordered oldest first, ties
// broken by item id ascending. When skipDoneCheck is set (debug force mode)
// the already-republished-today exclusion is bypassed.
func (s *Selector) SelectEligible(ctx context.Context, st *domain.Settings, skipDoneCheck bool) ([]domain.Item, error) {
	loc, err := st.Location()
	if err != nil {
		return nil, err
	}

	items, err := s.items.QueryItems(ctx, st.EnabledTypes, st.MinItemAgeDays)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	var doneToday map[int64]struct{}
	if !skipDoneCheck {
		now := s.now().In(loc)
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		doneToday, err = s.history.SucceededBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
	}

	eligible := make([]domain.Item, 0, len(items))
	for i := range items {
		item := items[i]
		if _, done := doneToday[item.ID]; done {
			continue
		}
		ok, err := s.categoryMatch(ctx, st, item.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		eligible = append(eligible, item)
	}

	// The store already orders results, but the invariant is cheap to
	// restate and guards against store implementations that do not.
	sort.SliceStable(eligible, func(a, b int) bool {
		if eligible[a].PublishedAt.Equal(eligible[b].PublishedAt) {
			return eligible[a].ID < eligible[b].ID
		}
		return eligible[a].PublishedAt.Before(eligible[b].PublishedAt)
	})

	s.logger.Debug("eligible items selected",
		logger.Int("total", len(items)),
		logger.Int("eligible", len(eligible)),
		logger.Strings("types", st.EnabledTypes),
	)

	return eligible, nil
}

// ResolveQuota resolves the day's quota against the eligible count. The
// result is always within [0, MaxQuota] and never exceeds eligibleCount.
func (s *Selector) ResolveQuota(st *domain.Settings, eligibleCount int) int {
	var quota int
	switch st.QuotaMode {
	case domain.QuotaPercentage:
		quota = st.QuotaValue * eligibleCount / percentDenominator
	default:
		quota = st.QuotaValue
	}

	if quota > domain.MaxQuota {
		quota = domain.MaxQuota
	}
	if quota > eligibleCount {
		quota = eligibleCount
	}
	if quota < 0 {
		quota = 0
	}
	return quota
}

func (s *Selector) categoryMatch(ctx context.Context, st *domain.Settings, itemID int64) (bool, error) {
	if st.CategoryFilter == domain.CategoryFilterNone {
		return true, nil
	}

	categories, err := s.items.Categories(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("item %d categories: %w", itemID, err)
	}

	overlap := false
	filter := make(map[int64]struct{}, len(st.CategoryIDs))
	for _, id := range st.CategoryIDs {
		filter[id] = struct{}{}
	}
	for _, id := range categories {
		if _, ok := filter[id]; ok {
			overlap = true
			break
		}
	}

	if st.CategoryFilter == domain.CategoryFilterWhitelist {
		return overlap, nil
	}
	return !overlap, nil
}
