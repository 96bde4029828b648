// Package payment sends tips to finders over M-Pesa and reconciles the
// asynchronous payment result with the claim that asked for it.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/store"
)

// MinTip is the smallest tip accepted, in KES.
const MinTip = 50

// AckCode is the gateway response code meaning the push was accepted.
const AckCode = "0"

var (
	// ErrTipTooSmall is returned for tips below MinTip.
	ErrTipTooSmall = fmt.Errorf("minimum tip amount is %d", MinTip)

	// ErrPhoneRequired is returned when no payer phone was given.
	ErrPhoneRequired = errors.New("please provide your phone number")

	// ErrNoTipNeeded is returned when the finder left no phone to tip.
	ErrNoTipNeeded = errors.New("the finder did not ask for a tip")

	// ErrPaymentInitiationFailed is wrapped by InitiationError.
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")

	// ErrPaymentsDisabled is returned by Disabled.
	ErrPaymentsDisabled = errors.New("tips are not enabled on this server")
)

// InitiationError reports a push the gateway refused or never answered.
// Description is safe to show to the payer.
type InitiationError struct {
	Description string
	Err         error
}

func (e *InitiationError) Error() string {
	return "payment initiation failed: " + e.Description
}

func (e *InitiationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPaymentInitiationFailed}
	}
	return []error{ErrPaymentInitiationFailed, e.Err}
}

// PushRequest is one STK push prompt sent to a payer's phone.
type PushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

// PushResponse is the gateway's synchronous answer to a push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Gateway sends STK push prompts.
type Gateway interface {
	STKPush(ctx context.Context, req PushRequest) (*PushResponse, error)
}

// Disabled is the gateway used when no M-Pesa credentials are configured.
// Every push fails, so claimants can only skip the tip.
type Disabled struct{}

// STKPush implements Gateway.
func (Disabled) STKPush(context.Context, PushRequest) (*PushResponse, error) {
	return nil, ErrPaymentsDisabled
}

// Ack confirms a push was accepted. The payment result arrives later via
// the callback.
type Ack struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// AccountReference tags a push with the item it pays for.
func AccountReference(itemID string) string {
	return "Item-" + itemID
}

// ItemIDFromReference reverses AccountReference.
func ItemIDFromReference(ref string) string {
	return strings.TrimPrefix(ref, "Item-")
}

// Orchestrator starts tips and applies their results.
type Orchestrator struct {
	db      *sql.DB
	gateway Gateway
	claims  *claims.Service
	events  events.Publisher
}

// NewOrchestrator wires an orchestrator. A nil publisher discards events.
func NewOrchestrator(db *sql.DB, gateway Gateway, claimsSvc *claims.Service, pub events.Publisher) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{db: db, gateway: gateway, claims: claimsSvc, events: pub}
}

// InitiateTip asks the gateway to prompt the payer for a tip. The claim
// stays pre-claimed whatever happens here; only the callback completes it.
func (o *Orchestrator) InitiateTip(ctx context.Context, claimID, itemID, payerPhone string, amount int64) (*Ack, error) {
	claim, err := store.GetClaim(ctx, o.db, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.ItemID != itemID {
		return nil, claims.ErrClaimNotFound
	}
	if !claim.Open() {
		return nil, claims.ErrClaimNotOpen
	}

	item, err := store.GetItem(ctx, o.db, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, claims.ErrItemNotFound
	}
	if !item.TipsFinder() {
		return nil, ErrNoTipNeeded
	}

	if amount < MinTip {
		return nil, ErrTipTooSmall
	}
	payerPhone = strings.TrimSpace(payerPhone)
	if payerPhone == "" {
		return nil, ErrPhoneRequired
	}

	resp, err := o.gateway.STKPush(ctx, PushRequest{
		Phone:            payerPhone,
		Amount:           amount,
		AccountReference: AccountReference(itemID),
		Description:      "Tip for found item " + itemID,
	})
	if err != nil {
		log.Error().Err(err).Str("claim_id", claimID).Msg("initiating tip")
		var gwErr *GatewayError
		if errors.Is(err, ErrPaymentsDisabled) {
			return nil, &InitiationError{Description: err.Error(), Err: err}
		}
		if errors.As(err, &gwErr) && gwErr.Message != "" {
			return nil, &InitiationError{Description: gwErr.Message, Err: err}
		}
		return nil, &InitiationError{Description: "the payment service is unavailable, please try again", Err: err}
	}
	if resp.ResponseCode != AckCode {
		log.Warn().
			Str("claim_id", claimID).
			Str("response_code", resp.ResponseCode).
			Str("description", resp.ResponseDescription).
			Msg("tip rejected by gateway")
		return nil, &InitiationError{Description: resp.ResponseDescription}
	}

	err = store.RecordTipCheckout(ctx, o.db, claimID, resp.CheckoutRequestID, NormalizePhone(payerPhone))
	if errors.Is(err, store.ErrConflict) {
		// The claim closed while the push was in flight; the callback will
		// find nothing to settle.
		log.Warn().Str("claim_id", claimID).Msg("claim closed during tip initiation")
	} else if err != nil {
		return nil, err
	}

	log.Info().
		Str("claim_id", claimID).
		Str("item_id", itemID).
		Int64("amount", amount).
		Str("checkout_request_id", resp.CheckoutRequestID).
		Msg("tip initiated")

	if err := o.events.Publish(ctx, events.Event{
		Kind:    events.KindTipInitiated,
		ItemID:  itemID,
		ClaimID: claimID,
		Status:  claim.Status,
		At:      time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("claim_id", claimID).Msg("publishing event")
	}

	return &Ack{
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}
