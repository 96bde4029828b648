package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/najdeno/internal/model"
)

// ErrConflict is returned when a conditional state change finds the row in a
// different state than expected, usually because a concurrent request won.
var ErrConflict = errors.New("state changed concurrently")

const claimColumns = `id, item_id, verification_info, status, claim_date, tip_amount, rating,
	referral, tip_message, tip_checkout_id, tip_phone, updated_at`

// PreClaimItem moves a pending item to pre-claimed and records the claim in a
// single transaction. The item update runs first and is conditional on the
// item still being pending, so two concurrent claimants cannot both succeed.
func PreClaimItem(ctx context.Context, db *sql.DB, itemID string, verificationInfo map[string]string) (*model.Claim, error) {
	info, err := json.Marshal(verificationInfo)
	if err != nil {
		return nil, fmt.Errorf("encoding verification info: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	reserved, err := UpdateItemStatus(ctx, tx, itemID, model.ItemStatusPending, model.ItemStatusPreClaimed)
	if err != nil {
		return nil, fmt.Errorf("reserving item: %w", err)
	}
	if !reserved {
		return nil, ErrConflict
	}

	claimID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO claims (id, item_id, verification_info, status, claim_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		claimID, itemID, string(info), model.ClaimStatusPreClaimed, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return GetClaim(ctx, db, claimID)
}

// Completion carries the tip details written when a claim is completed.
// Nil/empty fields leave the stored values untouched.
type Completion struct {
	TipAmount  *int64
	TipMessage string
}

// CompleteClaim moves a pre-claimed claim and its item to claimed in one
// transaction. It returns ErrConflict if the claim is no longer pre-claimed,
// which makes repeated completions harmless.
func CompleteClaim(ctx context.Context, db *sql.DB, claimID string, c Completion) (*model.Claim, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`UPDATE claims
		 SET status = ?, tip_amount = COALESCE(?, tip_amount), tip_message = COALESCE(?, tip_message), updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.ClaimStatusClaimed, c.TipAmount, nullString(c.TipMessage), now,
		claimID, model.ClaimStatusPreClaimed,
	)
	if err != nil {
		return nil, fmt.Errorf("completing claim: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking claim completion: %w", err)
	}
	if n != 1 {
		return nil, ErrConflict
	}

	var itemID string
	if err := tx.QueryRowContext(ctx, `SELECT item_id FROM claims WHERE id = ?`, claimID).Scan(&itemID); err != nil {
		return nil, fmt.Errorf("getting claimed item: %w", err)
	}

	// Forward-only: pending or pre-claimed become claimed, claimed stays.
	_, err = tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		model.ItemStatusClaimed, now, itemID, model.ItemStatusClaimed,
	)
	if err != nil {
		return nil, fmt.Errorf("marking item claimed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim completion: %w", err)
	}

	return GetClaim(ctx, db, claimID)
}

// RecordTipCheckout stores the gateway's checkout id and the payer phone on an
// open claim so the callback can be matched exactly.
func RecordTipCheckout(ctx context.Context, db *sql.DB, claimID, checkoutID, phone string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE claims SET tip_checkout_id = ?, tip_phone = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		nullString(checkoutID), nullString(phone), time.Now().UTC(), claimID, model.ClaimStatusPreClaimed,
	)
	if err != nil {
		return fmt.Errorf("recording tip checkout: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return ErrConflict
	}
	return nil
}

// SetClaimFeedback stores the claimant's optional rating and referral answer.
func SetClaimFeedback(ctx context.Context, db *sql.DB, claimID string, rating *int, referral *bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE claims SET rating = COALESCE(?, rating), referral = COALESCE(?, referral), updated_at = ?
		 WHERE id = ?`,
		rating, referral, time.Now().UTC(), claimID,
	)
	if err != nil {
		return fmt.Errorf("setting claim feedback: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return fmt.Errorf("setting claim feedback: claim %s not found", claimID)
	}
	return nil
}

// GetClaim returns a claim by ID, or nil if it does not exist.
func GetClaim(ctx context.Context, db *sql.DB, id string) (*model.Claim, error) {
	row := db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	return c, nil
}

// LatestClaimByItemAndStatus returns the most recent claim for an item in the
// given status, or nil if there is none.
func LatestClaimByItemAndStatus(ctx context.Context, db *sql.DB, itemID, status string) (*model.Claim, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims
		 WHERE item_id = ? AND status = ?
		 ORDER BY claim_date DESC, rowid DESC
		 LIMIT 1`, itemID, status,
	)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest claim: %w", err)
	}
	return c, nil
}

// OpenClaimByCheckoutID returns the pre-claimed claim that initiated the given
// gateway checkout, or nil.
func OpenClaimByCheckoutID(ctx context.Context, db *sql.DB, checkoutID string) (*model.Claim, error) {
	if checkoutID == "" {
		return nil, nil
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE tip_checkout_id = ? AND status = ?`,
		checkoutID, model.ClaimStatusPreClaimed,
	)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting claim by checkout id: %w", err)
	}
	return c, nil
}

// ListClaims returns claims newest first, optionally filtered by item or status.
func ListClaims(ctx context.Context, db *sql.DB, itemID, status string) ([]model.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	var args []any

	if itemID != "" {
		query += ` AND item_id = ?`
		args = append(args, itemID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY claim_date DESC, rowid DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	return scanClaims(rows)
}

// ListClaimsOpenedBefore returns pre-claimed claims whose claim date is
// before the cutoff, oldest first.
func ListClaimsOpenedBefore(ctx context.Context, db *sql.DB, cutoff time.Time) ([]model.Claim, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims
		 WHERE status = ? AND claim_date < ?
		 ORDER BY claim_date ASC`,
		model.ClaimStatusPreClaimed, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale claims: %w", err)
	}
	defer rows.Close()

	return scanClaims(rows)
}

func scanClaims(rows *sql.Rows) ([]model.Claim, error) {
	var claims []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, *c)
	}
	return claims, rows.Err()
}

func scanClaim(row rowScanner) (*model.Claim, error) {
	c := &model.Claim{}
	var info string
	var tipAmount, rating sql.NullInt64
	var referral sql.NullBool
	var tipMessage, checkoutID, tipPhone sql.NullString
	err := row.Scan(&c.ID, &c.ItemID, &info, &c.Status, &c.ClaimDate, &tipAmount, &rating,
		&referral, &tipMessage, &checkoutID, &tipPhone, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(info), &c.VerificationInfo); err != nil {
		return nil, fmt.Errorf("decoding verification info: %w", err)
	}
	if tipAmount.Valid {
		c.TipAmount = &tipAmount.Int64
	}
	if rating.Valid {
		r := int(rating.Int64)
		c.Rating = &r
	}
	if referral.Valid {
		c.Referral = &referral.Bool
	}
	c.TipMessage = tipMessage.String
	c.TipCheckoutID = checkoutID.String
	c.TipPhone = tipPhone.String
	return c, nil
}
