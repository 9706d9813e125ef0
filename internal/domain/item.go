// Package domain contains the core domain models for the republisher service.
package domain

import "time"

// Item is a transient reference to a published content item owned by the
// hosting CMS. The engine only ever rewrites its publish and last-modified
// timestamps; body, tags and category membership are never touched.
type Item struct {
	ID          int64     `db:"id"           json:"id"`
	Type        string    `db:"item_type"    json:"item_type"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
	ModifiedAt  time.Time `db:"modified_at"  json:"modified_at"`
}

// Age returns how long ago the item was published relative to now.
func (i *Item) Age(now time.Time) time.Duration {
	return now.Sub(i.PublishedAt)
}
