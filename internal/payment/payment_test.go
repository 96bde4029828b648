package payment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

type fakeGateway struct {
	requests []PushRequest
	resp     *PushResponse
	err      error
}

func (g *fakeGateway) STKPush(_ context.Context, req PushRequest) (*PushResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func accepted(checkoutID string) *PushResponse {
	return &PushResponse{
		MerchantRequestID:   "m-" + checkoutID,
		CheckoutRequestID:   checkoutID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
}

type fixture struct {
	db       *sql.DB
	gateway  *fakeGateway
	claims   *claims.Service
	payments *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	gw := &fakeGateway{resp: accepted("ws_CO_1")}
	claimsSvc := claims.NewService(database, nil)
	return &fixture{
		db:       database,
		gateway:  gw,
		claims:   claimsSvc,
		payments: NewOrchestrator(database, gw, claimsSvc, nil),
	}
}

// openClaim reports an item and pre-claims it.
func (f *fixture) openClaim(t *testing.T, finderPhone string) (*model.Item, *model.Claim) {
	t.Helper()
	ctx := context.Background()
	item, err := store.CreateItem(ctx, f.db, &model.Item{
		Type:          model.ItemTypeOther,
		Name:          "Blue umbrella",
		ExtractedInfo: model.ExtractedInfo{model.FieldDescription: "blue with white dots"},
		PhoneNumber:   finderPhone,
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	claim, err := store.PreClaimItem(ctx, f.db, item.ID, map[string]string{"description": "blue with white dots"})
	if err != nil {
		t.Fatalf("PreClaimItem: %v", err)
	}
	return item, claim
}

func TestInitiateTip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")

	ack, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "+254712345678", 100)
	if err != nil {
		t.Fatalf("InitiateTip: %v", err)
	}
	if ack.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("expected checkout id ws_CO_1, got %q", ack.CheckoutRequestID)
	}

	if len(f.gateway.requests) != 1 {
		t.Fatalf("expected 1 push, got %d", len(f.gateway.requests))
	}
	req := f.gateway.requests[0]
	if req.AccountReference != "Item-"+item.ID || req.Description != "Tip for found item "+item.ID || req.Amount != 100 {
		t.Errorf("unexpected push request %+v", req)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusPreClaimed {
		t.Errorf("expected claim to stay pre-claimed, got %q", got.Status)
	}
	if got.TipCheckoutID != "ws_CO_1" || got.TipPhone != "254712345678" {
		t.Errorf("expected checkout recorded, got id=%q phone=%q", got.TipCheckoutID, got.TipPhone)
	}
}

func TestInitiateTipValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	noPhoneItem, noPhoneClaim := f.openClaim(t, "")

	tests := []struct {
		name    string
		claimID string
		itemID  string
		phone   string
		amount  int64
		wantErr error
	}{
		{"below minimum", claim.ID, item.ID, "0712345678", 49, ErrTipTooSmall},
		{"no phone", claim.ID, item.ID, "  ", 50, ErrPhoneRequired},
		{"finder has no phone", noPhoneClaim.ID, noPhoneItem.ID, "0712345678", 100, ErrNoTipNeeded},
		{"unknown claim", "missing", item.ID, "0712345678", 100, claims.ErrClaimNotFound},
		{"claim for other item", claim.ID, noPhoneItem.ID, "0712345678", 100, claims.ErrClaimNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payments.InitiateTip(ctx, tt.claimID, tt.itemID, tt.phone, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(f.gateway.requests) != 0 {
		t.Errorf("expected no pushes for invalid tips, got %d", len(f.gateway.requests))
	}
}

func TestInitiateTipClosedClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	f.claims.Skip(ctx, claim.ID)

	_, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "0712345678", 100)
	if !errors.Is(err, claims.ErrClaimNotOpen) {
		t.Fatalf("expected ErrClaimNotOpen, got %v", err)
	}
}

func TestInitiateTipGatewayRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	f.gateway.resp = &PushResponse{ResponseCode: "1", ResponseDescription: "Insufficient balance"}

	_, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "0712345678", 100)
	if !errors.Is(err, ErrPaymentInitiationFailed) {
		t.Fatalf("expected ErrPaymentInitiationFailed, got %v", err)
	}
	var initErr *InitiationError
	if !errors.As(err, &initErr) || initErr.Description != "Insufficient balance" {
		t.Errorf("expected gateway description, got %v", err)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusPreClaimed || got.TipCheckoutID != "" {
		t.Errorf("expected claim unchanged, got %+v", got)
	}
}

func TestInitiateTipTransportFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	cause := context.DeadlineExceeded
	f.gateway.err = cause

	_, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "0712345678", 100)
	if !errors.Is(err, ErrPaymentInitiationFailed) {
		t.Fatalf("expected ErrPaymentInitiationFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
}

func TestInitiateTipPaymentsDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	f.payments = NewOrchestrator(f.db, Disabled{}, f.claims, nil)

	_, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "0712345678", 100)
	var initErr *InitiationError
	if !errors.As(err, &initErr) || !errors.Is(err, ErrPaymentsDisabled) {
		t.Fatalf("expected disabled initiation error, got %v", err)
	}
	if initErr.Description != ErrPaymentsDisabled.Error() {
		t.Errorf("unexpected description %q", initErr.Description)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusPreClaimed {
		t.Errorf("expected claim to stay pre-claimed, got %s", got.Status)
	}
}

func successCallback(checkoutID, itemID string) string {
	return `{"Body":{"stkCallback":{
		"MerchantRequestID":"m-1",
		"CheckoutRequestID":"` + checkoutID + `",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"AccountReference":"Item-` + itemID + `",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":100},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback(strings.NewReader(successCallback("ws_CO_1", "abc")))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if !cb.Succeeded() || cb.CheckoutRequestID != "ws_CO_1" || cb.AccountReference != "Item-abc" {
		t.Errorf("unexpected callback %+v", cb)
	}
	if amount, ok := cb.Amount(); !ok || amount != 100 {
		t.Errorf("expected amount 100, got %d (%v)", amount, ok)
	}
	if cb.Receipt() != "NLJ7RT61SV" {
		t.Errorf("expected receipt, got %q", cb.Receipt())
	}

	failed, err := ParseCallback(strings.NewReader(`{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if failed.Succeeded() || failed.ResultCode != 1032 {
		t.Errorf("expected failed callback, got %+v", failed)
	}

	for _, body := range []string{`not json`, `{}`, `{"Body":{"stkCallback":{"ResultCode":"abc"}}}`} {
		if _, err := ParseCallback(strings.NewReader(body)); !errors.Is(err, ErrMalformedCallback) {
			t.Errorf("ParseCallback(%q): expected ErrMalformedCallback, got %v", body, err)
		}
	}
}

func TestReconcileSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")
	if _, err := f.payments.InitiateTip(ctx, claim.ID, item.ID, "0712345678", 100); err != nil {
		t.Fatalf("InitiateTip: %v", err)
	}

	cb, _ := ParseCallback(strings.NewReader(successCallback("ws_CO_1", item.ID)))
	outcome, err := f.payments.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Errorf("expected settled, got %q", outcome)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusClaimed {
		t.Errorf("expected claim status 'claimed', got %q", got.Status)
	}
	if got.TipAmount == nil || *got.TipAmount != 100 {
		t.Errorf("expected tip amount 100, got %v", got.TipAmount)
	}
	if got.TipMessage != "Paid 100 via M-Pesa. Receipt: NLJ7RT61SV" {
		t.Errorf("unexpected tip message %q", got.TipMessage)
	}
	gotItem, _ := store.GetItem(ctx, f.db, item.ID)
	if gotItem.Status != model.ItemStatusClaimed {
		t.Errorf("expected item status 'claimed', got %q", gotItem.Status)
	}

	// A repeated delivery is a no-op.
	again, _ := ParseCallback(strings.NewReader(successCallback("ws_CO_1", item.ID)))
	outcome, err = f.payments.Reconcile(ctx, again)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if outcome != OutcomeNoMatch {
		t.Errorf("expected no-match on duplicate, got %q", outcome)
	}
	got, _ = store.GetClaim(ctx, f.db, claim.ID)
	if *got.TipAmount != 100 {
		t.Errorf("expected tip amount unchanged, got %d", *got.TipAmount)
	}
}

func TestReconcileFallsBackToItemReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")

	// No checkout id was recorded, so only the account reference can match.
	cb, _ := ParseCallback(strings.NewReader(successCallback("ws_CO_unknown", item.ID)))
	outcome, err := f.payments.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeSettled {
		t.Fatalf("expected settled, got %q", outcome)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusClaimed {
		t.Errorf("expected claim status 'claimed', got %q", got.Status)
	}
}

func TestReconcilePrefersCheckoutID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, firstClaim := f.openClaim(t, "0700000000")
	_, secondClaim := f.openClaim(t, "0700000001")

	if _, err := f.payments.InitiateTip(ctx, firstClaim.ID, first.ID, "0712345678", 100); err != nil {
		t.Fatalf("InitiateTip: %v", err)
	}

	// The reference points at the wrong item; the checkout id still wins.
	cb, _ := ParseCallback(strings.NewReader(successCallback("ws_CO_1", secondClaim.ItemID)))
	if _, err := f.payments.Reconcile(ctx, cb); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := store.GetClaim(ctx, f.db, firstClaim.ID)
	if got.Status != model.ClaimStatusClaimed {
		t.Errorf("expected first claim claimed, got %q", got.Status)
	}
	other, _ := store.GetClaim(ctx, f.db, secondClaim.ID)
	if other.Status != model.ClaimStatusPreClaimed {
		t.Errorf("expected second claim untouched, got %q", other.Status)
	}
}

func TestReconcileFailedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claim := f.openClaim(t, "0700000000")

	cb := &Callback{CheckoutRequestID: "ws_CO_1", ResultCode: 1032, AccountReference: "Item-" + item.ID}
	outcome, err := f.payments.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Errorf("expected failed, got %q", outcome)
	}

	got, _ := store.GetClaim(ctx, f.db, claim.ID)
	if got.Status != model.ClaimStatusPreClaimed || got.TipAmount != nil {
		t.Errorf("expected claim unchanged, got %+v", got)
	}
}

func TestReconcileNoMatch(t *testing.T) {
	f := newFixture(t)

	cb, _ := ParseCallback(strings.NewReader(successCallback("ws_CO_9", "missing")))
	outcome, err := f.payments.Reconcile(context.Background(), cb)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeNoMatch {
		t.Errorf("expected no-match, got %q", outcome)
	}
}

func TestReconcileMissingAmount(t *testing.T) {
	f := newFixture(t)
	cb := &Callback{CheckoutRequestID: "x", ResultCode: 0, Metadata: map[string]any{}}

	if _, err := f.payments.Reconcile(context.Background(), cb); !errors.Is(err, ErrMalformedCallback) {
		t.Errorf("expected ErrMalformedCallback, got %v", err)
	}
}
