package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/payment"
)

// callbackPrefix is where the gateway delivers payment results. The path
// ends in a shared secret since the gateway does not sign its requests.
const callbackPrefix = "/api/payments/callback/"

// PaymentsHandler receives payment gateway webhooks.
type PaymentsHandler struct {
	Payments       *payment.Orchestrator
	CallbackSecret string
}

// Callback handles POST /api/payments/callback/{secret}. Anything short of
// a 200 makes the gateway retry, so callbacks that match nothing are still
// acknowledged.
func (h *PaymentsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	secret := []byte(mux.Vars(r)["secret"])
	if h.CallbackSecret == "" || subtle.ConstantTimeCompare(secret, []byte(h.CallbackSecret)) != 1 {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("payment callback with bad secret")
		jsonError(w, http.StatusNotFound, "not found")
		return
	}

	defer r.Body.Close()
	cb, err := payment.ParseCallback(http.MaxBytesReader(w, r.Body, maxBodySize))
	var outcome payment.Outcome
	if err == nil {
		outcome, err = h.Payments.Reconcile(r.Context(), cb)
	}
	if errors.Is(err, payment.ErrMalformedCallback) {
		log.Warn().Err(err).Msg("malformed payment callback")
		jsonError(w, http.StatusBadRequest, "malformed callback")
		return
	}
	if err != nil {
		internalError(w, r, err, "failed to process callback")
		return
	}

	log.Info().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("outcome", string(outcome)).
		Msg("payment callback processed")
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}
