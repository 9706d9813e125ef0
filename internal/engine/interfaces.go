package engine

import (
	"context"
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/selector"
)

// SettingsProvider supplies the immutable per-batch settings snapshot.
type SettingsProvider interface {
	Snapshot(ctx context.Context) (*domain.Settings, error)
}

// ItemStore is the engine's view of the CMS content storage.
type ItemStore interface {
	selector.ItemReader

	// GetByIDs returns the items with the given ids, oldest first.
	GetByIDs(ctx context.Context, ids []int64) ([]domain.Item, error)

	// RewriteTimestamp updates an item's publish and last-modified
	// timestamps.
	RewriteTimestamp(ctx context.Context, itemID int64, publishedAt, modifiedAt time.Time) error
}

// HistoryStore is the append-only attempt log.
type HistoryStore interface {
	selector.HistoryReader

	Append(ctx context.Context, rec *domain.HistoryRecord) error
}

// Locker is the cross-process mutual-exclusion gate around one batch.
type Locker interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// RetryArmer schedules a delayed failure-only re-run.
type RetryArmer interface {
	Arm(itemIDs []int64, attempt int)
}
