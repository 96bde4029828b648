package media

import (
	"context"
	"database/sql"

	"github.com/erazemk/najdeno/internal/store"
)

// DBStore keeps images inline in the items table. The key is the item ID.
type DBStore struct {
	DB *sql.DB
}

// Scheme implements Store.
func (s *DBStore) Scheme() string { return "sqlite" }

// Put implements Store.
func (s *DBStore) Put(ctx context.Context, itemID string, data []byte, _ string) (string, error) {
	if err := store.SaveItemImageBlob(ctx, s.DB, itemID, data); err != nil {
		return "", err
	}
	return itemID, nil
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := store.GetItemImageBlob(ctx, s.DB, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}
