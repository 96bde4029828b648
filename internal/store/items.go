package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/najdeno/internal/model"
)

const itemColumns = `id, type, name, description, found_date, location, contact_info,
	extracted_info, phone_number, pickup_locations, image_ref, image_mime, status,
	created_at, updated_at`

// CreateItem stores a newly reported item. The ID, status and timestamps are
// assigned here; whatever the caller put in those fields is ignored.
func CreateItem(ctx context.Context, db *sql.DB, item *model.Item) (*model.Item, error) {
	extracted, err := json.Marshal(nonNilInfo(item.ExtractedInfo))
	if err != nil {
		return nil, fmt.Errorf("encoding extracted info: %w", err)
	}
	pickup, err := json.Marshal(nonNilList(item.SuggestedPickupLocations))
	if err != nil {
		return nil, fmt.Errorf("encoding pickup locations: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = db.ExecContext(ctx,
		`INSERT INTO items (id, type, name, description, found_date, location, contact_info,
		                    extracted_info, phone_number, pickup_locations, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(item.Type), item.Name, item.Description, item.FoundDate, item.Location, item.ContactInfo,
		string(extracted), nullString(item.PhoneNumber), string(pickup), model.ItemStatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, db *sql.DB, id string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns items newest first, optionally filtered by status.
func ListItems(ctx context.Context, db *sql.DB, status string) ([]model.Item, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY created_at DESC, rowid DESC`, status,
		)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, rowid DESC`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpdateItemStatus moves an item from one status to another only if it is
// currently in the expected status. It reports whether the row changed.
// Pass a *sql.Tx to make the change part of a larger transaction.
func UpdateItemStatus(ctx context.Context, db execer, id, from, to string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("updating item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking item status update: %w", err)
	}
	return n == 1, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var itemType, extracted, pickup string
	var description, foundDate, location, contact, phone, imageRef, imageMime sql.NullString
	err := row.Scan(&item.ID, &itemType, &item.Name, &description, &foundDate, &location, &contact,
		&extracted, &phone, &pickup, &imageRef, &imageMime, &item.Status,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	item.Type = model.ItemType(itemType)
	item.Description = description.String
	item.FoundDate = foundDate.String
	item.Location = location.String
	item.ContactInfo = contact.String
	item.PhoneNumber = phone.String
	item.ImageRef = imageRef.String
	item.ImageMime = imageMime.String

	if err := json.Unmarshal([]byte(extracted), &item.ExtractedInfo); err != nil {
		return nil, fmt.Errorf("decoding extracted info: %w", err)
	}
	if err := json.Unmarshal([]byte(pickup), &item.SuggestedPickupLocations); err != nil {
		return nil, fmt.Errorf("decoding pickup locations: %w", err)
	}
	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilInfo(m model.ExtractedInfo) model.ExtractedInfo {
	if m == nil {
		return model.ExtractedInfo{}
	}
	return m
}

func nonNilList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
