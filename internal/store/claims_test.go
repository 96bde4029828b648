package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/model"
)

func createPendingItem(t *testing.T, database *sql.DB) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), database, &model.Item{
		Type: model.ItemTypeIDCard,
		Name: "National ID Card",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func TestPreClaimItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)

	claim, err := PreClaimItem(ctx, database, item.ID, map[string]string{"name": "John Smith"})
	if err != nil {
		t.Fatalf("PreClaimItem: %v", err)
	}
	if claim.Status != model.ClaimStatusPreClaimed {
		t.Errorf("expected claim status 'pre-claimed', got %q", claim.Status)
	}
	if claim.VerificationInfo["name"] != "John Smith" {
		t.Errorf("expected verification info to round-trip, got %v", claim.VerificationInfo)
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.Status != model.ItemStatusPreClaimed {
		t.Errorf("expected item status 'pre-claimed', got %q", got.Status)
	}

	// A second claimant loses.
	_, err = PreClaimItem(ctx, database, item.ID, map[string]string{"name": "John Smith"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	open, _ := ListClaims(ctx, database, item.ID, model.ClaimStatusPreClaimed)
	if len(open) != 1 {
		t.Errorf("expected exactly 1 pre-claimed claim, got %d", len(open))
	}
}

func TestPreClaimMissingItem(t *testing.T) {
	database := db.NewTestDB(t)

	_, err := PreClaimItem(context.Background(), database, "missing", nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for missing item, got %v", err)
	}
}

func TestOnePreClaimedClaimPerItemIndex(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)

	if _, err := PreClaimItem(ctx, database, item.ID, nil); err != nil {
		t.Fatalf("PreClaimItem: %v", err)
	}

	// Bypass the item guard: the index alone must still refuse a second open claim.
	now := time.Now().UTC()
	_, err := database.ExecContext(ctx,
		`INSERT INTO claims (id, item_id, verification_info, status, claim_date, updated_at)
		 VALUES ('dup', ?, '{}', 'pre-claimed', ?, ?)`, item.ID, now, now)
	if err == nil {
		t.Fatal("expected unique index violation for second pre-claimed claim")
	}
}

func TestCompleteClaim(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)
	claim, _ := PreClaimItem(ctx, database, item.ID, nil)

	amount := int64(100)
	done, err := CompleteClaim(ctx, database, claim.ID, Completion{
		TipAmount:  &amount,
		TipMessage: "Paid 100 via M-Pesa. Receipt: ABC123",
	})
	if err != nil {
		t.Fatalf("CompleteClaim: %v", err)
	}
	if done.Status != model.ClaimStatusClaimed {
		t.Errorf("expected claim status 'claimed', got %q", done.Status)
	}
	if done.TipAmount == nil || *done.TipAmount != 100 {
		t.Errorf("expected tip amount 100, got %v", done.TipAmount)
	}
	if done.TipMessage == "" {
		t.Error("expected tip message")
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.Status != model.ItemStatusClaimed {
		t.Errorf("expected item status 'claimed', got %q", got.Status)
	}

	// Completing again is a conflict and changes nothing.
	other := int64(999)
	if _, err := CompleteClaim(ctx, database, claim.ID, Completion{TipAmount: &other}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second completion, got %v", err)
	}
	again, _ := GetClaim(ctx, database, claim.ID)
	if *again.TipAmount != 100 {
		t.Errorf("expected tip amount to stay 100, got %d", *again.TipAmount)
	}
}

func TestCompleteClaimWithoutTip(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)
	claim, _ := PreClaimItem(ctx, database, item.ID, nil)

	done, err := CompleteClaim(ctx, database, claim.ID, Completion{})
	if err != nil {
		t.Fatalf("CompleteClaim: %v", err)
	}
	if done.TipAmount != nil {
		t.Errorf("expected no tip amount, got %d", *done.TipAmount)
	}
}

func TestLatestClaimByItemAndStatus(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)

	old := time.Now().Add(-2 * time.Hour).UTC()
	newer := time.Now().Add(-1 * time.Hour).UTC()
	for _, row := range []struct {
		id     string
		status string
		at     time.Time
	}{
		{"c-old", model.ClaimStatusClaimed, old},
		{"c-new", model.ClaimStatusClaimed, newer},
		{"c-rejected", model.ClaimStatusRejected, time.Now().UTC()},
	} {
		if _, err := database.ExecContext(ctx,
			`INSERT INTO claims (id, item_id, status, claim_date, updated_at) VALUES (?, ?, ?, ?, ?)`,
			row.id, item.ID, row.status, row.at, row.at); err != nil {
			t.Fatalf("inserting claim: %v", err)
		}
	}

	latest, err := LatestClaimByItemAndStatus(ctx, database, item.ID, model.ClaimStatusClaimed)
	if err != nil {
		t.Fatalf("LatestClaimByItemAndStatus: %v", err)
	}
	if latest == nil || latest.ID != "c-new" {
		t.Errorf("expected c-new, got %+v", latest)
	}

	none, err := LatestClaimByItemAndStatus(ctx, database, item.ID, model.ClaimStatusPreClaimed)
	if err != nil {
		t.Fatalf("LatestClaimByItemAndStatus: %v", err)
	}
	if none != nil {
		t.Errorf("expected no pre-claimed claim, got %+v", none)
	}
}

func TestRecordTipCheckout(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)
	claim, _ := PreClaimItem(ctx, database, item.ID, nil)

	if err := RecordTipCheckout(ctx, database, claim.ID, "ws_CO_1", "254712345678"); err != nil {
		t.Fatalf("RecordTipCheckout: %v", err)
	}

	found, err := OpenClaimByCheckoutID(ctx, database, "ws_CO_1")
	if err != nil {
		t.Fatalf("OpenClaimByCheckoutID: %v", err)
	}
	if found == nil || found.ID != claim.ID {
		t.Fatalf("expected claim %s, got %+v", claim.ID, found)
	}
	if found.TipPhone != "254712345678" {
		t.Errorf("expected tip phone, got %q", found.TipPhone)
	}

	CompleteClaim(ctx, database, claim.ID, Completion{})

	found, _ = OpenClaimByCheckoutID(ctx, database, "ws_CO_1")
	if found != nil {
		t.Error("expected completed claim not to match by checkout id")
	}
	if err := RecordTipCheckout(ctx, database, claim.ID, "ws_CO_2", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on closed claim, got %v", err)
	}
}

func TestSetClaimFeedback(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)
	claim, _ := PreClaimItem(ctx, database, item.ID, nil)

	rating := 5
	referral := true
	if err := SetClaimFeedback(ctx, database, claim.ID, &rating, &referral); err != nil {
		t.Fatalf("SetClaimFeedback: %v", err)
	}

	got, _ := GetClaim(ctx, database, claim.ID)
	if got.Rating == nil || *got.Rating != 5 {
		t.Errorf("expected rating 5, got %v", got.Rating)
	}
	if got.Referral == nil || !*got.Referral {
		t.Errorf("expected referral true, got %v", got.Referral)
	}

	bad := 9
	if err := SetClaimFeedback(ctx, database, claim.ID, &bad, nil); err == nil {
		t.Error("expected out-of-range rating to be rejected")
	}
}

func TestListClaimsOpenedBefore(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createPendingItem(t, database)
	fresh := createPendingItem(t, database)

	stale := time.Now().Add(-100 * time.Hour).UTC()
	database.ExecContext(ctx,
		`INSERT INTO claims (id, item_id, status, claim_date, updated_at) VALUES ('stale', ?, 'pre-claimed', ?, ?)`,
		item.ID, stale, stale)
	PreClaimItem(ctx, database, fresh.ID, nil)

	claims, err := ListClaimsOpenedBefore(ctx, database, time.Now().Add(-model.PickupWindow))
	if err != nil {
		t.Fatalf("ListClaimsOpenedBefore: %v", err)
	}
	if len(claims) != 1 || claims[0].ID != "stale" {
		t.Errorf("expected only the stale claim, got %+v", claims)
	}
}
