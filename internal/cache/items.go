// Package cache keeps the public item list in memory between writes.
package cache

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// Query filters the item list. Empty fields match everything.
type Query struct {
	Text   string
	Status string
}

// Items is a read-through cache of all items, newest first. It is dropped on
// every published event, so it never outlives a status change by more than
// the publish call.
type Items struct {
	db *sql.DB

	mu    sync.RWMutex
	items []model.Item
	valid bool
	gen   uint64
}

// NewItems creates an empty cache.
func NewItems(db *sql.DB) *Items {
	return &Items{db: db}
}

// List returns the items matching q. Returned items share memory with the
// cache and must not be modified.
func (c *Items) List(ctx context.Context, q Query) ([]model.Item, error) {
	all, err := c.all(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.Item
	for _, item := range all {
		if Match(&item, q) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *Items) all(ctx context.Context) ([]model.Item, error) {
	c.mu.RLock()
	if c.valid {
		items := c.items
		c.mu.RUnlock()
		return items, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	items, err := store.ListItems(ctx, c.db, "")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Skip storing if something was invalidated while loading.
	if c.gen == gen {
		c.items = items
		c.valid = true
	}
	c.mu.Unlock()

	return items, nil
}

// Invalidate drops the cached list.
func (c *Items) Invalidate() {
	c.mu.Lock()
	c.items = nil
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// Publish implements events.Publisher by invalidating the cache.
func (c *Items) Publish(context.Context, events.Event) error {
	c.Invalidate()
	return nil
}

// Match reports whether an item satisfies q. Text matches case-insensitively
// against the name, description and location. Extracted values are the
// verification answers and are never searchable.
func Match(item *model.Item, q Query) bool {
	if q.Status != "" && item.Status != q.Status {
		return false
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return true
	}

	for _, s := range []string{item.Name, item.Description, item.Location} {
		if strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}
	return false
}
