package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveItemImageBlob stores image bytes inline in the items table.
func SaveItemImageBlob(ctx context.Context, db *sql.DB, id string, data []byte) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, updated_at = ? WHERE id = ?`,
		data, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("saving item image: %w", err)
	}
	return nil
}

// GetItemImageBlob returns inline image bytes, or nil if none are stored.
func GetItemImageBlob(ctx context.Context, db *sql.DB, id string) ([]byte, error) {
	var image []byte
	err := db.QueryRowContext(ctx,
		`SELECT image FROM items WHERE id = ?`, id,
	).Scan(&image)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item image: %w", err)
	}
	return image, nil
}

// SetItemImageRef records where an item's image lives and its MIME type.
func SetItemImageRef(ctx context.Context, db *sql.DB, id, ref, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET image_ref = ?, image_mime = ?, updated_at = ? WHERE id = ?`,
		ref, mime, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting item image reference: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("setting item image reference: item %s not found", id)
	}
	return nil
}
