package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// ErrMalformedCallback is returned for callbacks that cannot be applied.
var ErrMalformedCallback = errors.New("malformed payment callback")

// Callback is the result of an STK push, delivered by the gateway.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int64
	ResultDesc        string
	AccountReference  string
	Metadata          map[string]any
}

// Succeeded reports whether the payer completed the payment.
func (c *Callback) Succeeded() bool {
	return c.ResultCode == 0
}

// Amount returns the paid amount, rounded to whole shillings.
func (c *Callback) Amount() (int64, bool) {
	n, ok := c.Metadata["Amount"].(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// Receipt returns the M-Pesa receipt number.
func (c *Callback) Receipt() string {
	switch v := c.Metadata["MpesaReceiptNumber"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			AccountReference  string      `json:"AccountReference"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes a gateway callback body.
func ParseCallback(r io.Reader) (*Callback, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	stk := env.Body.STKCallback
	if stk == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}

	code, err := stk.ResultCode.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ResultCode %q", ErrMalformedCallback, stk.ResultCode)
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        stk.ResultDesc,
		AccountReference:  stk.AccountReference,
		Metadata:          map[string]any{},
	}
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			cb.Metadata[item.Name] = item.Value
		}
	}
	return cb, nil
}

// Outcome is what Reconcile did with a callback.
type Outcome string

// Reconcile outcomes.
const (
	OutcomeSettled Outcome = "settled"
	OutcomeFailed  Outcome = "failed"
	OutcomeNoMatch Outcome = "no-match"
)

// TipMessage is the note stored on a claim settled by a tip.
func TipMessage(amount int64, receipt string) string {
	return fmt.Sprintf("Paid %d via M-Pesa. Receipt: %s", amount, receipt)
}

// Reconcile applies a payment result. A failed payment changes nothing.
// A successful one completes the matching open claim, found by checkout id
// or else as the newest pre-claimed claim on the referenced item. Callbacks
// that find no open claim, including repeated deliveries, are no-ops.
func (o *Orchestrator) Reconcile(ctx context.Context, cb *Callback) (Outcome, error) {
	logger := log.With().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("account_reference", cb.AccountReference).
		Logger()

	if !cb.Succeeded() {
		logger.Info().
			Int64("result_code", cb.ResultCode).
			Str("result_desc", cb.ResultDesc).
			Msg("tip payment failed")
		return OutcomeFailed, nil
	}

	amount, ok := cb.Amount()
	if !ok {
		return "", fmt.Errorf("%w: missing Amount", ErrMalformedCallback)
	}
	receipt := cb.Receipt()

	claim, err := store.OpenClaimByCheckoutID(ctx, o.db, cb.CheckoutRequestID)
	if err != nil {
		return "", err
	}
	if claim == nil && cb.AccountReference != "" {
		claim, err = store.LatestClaimByItemAndStatus(ctx, o.db,
			ItemIDFromReference(cb.AccountReference), model.ClaimStatusPreClaimed)
		if err != nil {
			return "", err
		}
	}
	if claim == nil {
		logger.Info().Msg("no open claim for tip payment")
		return OutcomeNoMatch, nil
	}

	_, err = o.claims.Finalize(ctx, claim.ID, claims.Outcome{
		Kind:    claims.OutcomeTipPaid,
		Amount:  amount,
		Message: TipMessage(amount, receipt),
	})
	if errors.Is(err, claims.ErrClaimNotOpen) {
		logger.Info().Str("claim_id", claim.ID).Msg("claim already settled")
		return OutcomeNoMatch, nil
	}
	if err != nil {
		return "", err
	}

	logger.Info().
		Str("claim_id", claim.ID).
		Int64("amount", amount).
		Str("receipt", receipt).
		Msg("tip payment settled")
	return OutcomeSettled, nil
}
