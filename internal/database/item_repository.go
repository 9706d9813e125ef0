package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/evergreenpress/republisher/internal/domain"
)

// ItemRepository reads published content items from the CMS tables and
// rewrites publish timestamps. It never touches body, tags or taxonomy.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates an item repository on the given connection.
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// QueryItems returns published items of the enabled types at least
// minAgeDays old, oldest first, ties broken by id.
func (r *ItemRepository) QueryItems(ctx context.Context, types []string, minAgeDays int) ([]domain.Item, error) {
	items := []domain.Item{}
	query := `
		SELECT id, item_type, published_at, modified_at
		FROM content_items
		WHERE status = 'published'
		  AND item_type = ANY($1)
		  AND published_at <= now() - ($2 * interval '1 day')
		ORDER BY published_at ASC, id ASC
	`

	err := r.db.SelectContext(ctx, &items, query, pq.Array(types), minAgeDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	return items, nil
}

// GetByIDs returns the items with the given ids, oldest first. Missing ids
// are silently absent from the result; the caller decides how to treat them.
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.Item, error) {
	items := []domain.Item{}
	query := `
		SELECT id, item_type, published_at, modified_at
		FROM content_items
		WHERE status = 'published' AND id = ANY($1)
		ORDER BY published_at ASC, id ASC
	`

	err := r.db.SelectContext(ctx, &items, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get items by id: %w", err)
	}

	return items, nil
}

// Categories returns the category ids an item belongs to.
func (r *ItemRepository) Categories(ctx context.Context, itemID int64) ([]int64, error) {
	categories := []int64{}
	query := `SELECT category_id FROM item_categories WHERE item_id = $1`

	err := r.db.SelectContext(ctx, &categories, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}

	return categories, nil
}

// RewriteTimestamp updates an item's publish and last-modified timestamps.
// Returns domain.ErrNotFound when the item vanished or was unpublished.
func (r *ItemRepository) RewriteTimestamp(ctx context.Context, itemID int64, publishedAt, modifiedAt time.Time) error {
	query := `
		UPDATE content_items
		SET published_at = $2, modified_at = $3
		WHERE id = $1 AND status = 'published'
	`

	result, err := r.db.ExecContext(ctx, query, itemID, publishedAt, modifiedAt)
	if err != nil {
		return fmt.Errorf("failed to rewrite timestamp: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}
