package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/auth"
	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/payment"
	"github.com/erazemk/najdeno/internal/store"
	"github.com/erazemk/najdeno/internal/verify"
)

// ClaimsHandler handles the claimant flow and staff claim inspection.
type ClaimsHandler struct {
	DB           *sql.DB
	Claims       *claims.Service
	Payments     *payment.Orchestrator
	TicketSecret string
}

type createClaimRequest struct {
	VerificationInfo map[string]string `json:"verification_info"`
}

type createClaimResponse struct {
	*claims.Result
	Ticket string `json:"ticket"`
}

type claimView struct {
	Claim  *model.Claim   `json:"claim"`
	Pickup *claims.Pickup `json:"pickup,omitempty"`
}

type tipRequest struct {
	Phone  string `json:"phone"`
	Amount int64  `json:"amount"`
}

type feedbackRequest struct {
	Rating   *int  `json:"rating"`
	Referral *bool `json:"referral"`
}

// claimError maps claim and payment errors to responses.
func claimError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *verify.MissingFieldError
	var initiation *payment.InitiationError

	switch {
	case errors.As(err, &missing):
		jsonError(w, http.StatusBadRequest, missing.Error())
	case errors.Is(err, verify.ErrVerificationMismatch):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, claims.ErrItemNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, claims.ErrClaimNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, claims.ErrItemNotClaimable):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, claims.ErrClaimNotOpen):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, claims.ErrInvalidRating):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrTipTooSmall), errors.Is(err, payment.ErrPhoneRequired):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNoTipNeeded):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.As(err, &initiation):
		jsonError(w, http.StatusBadGateway, initiation.Description)
	default:
		internalError(w, r, err, "internal error")
	}
}

// Create handles POST /api/items/{id}/claims.
func (h *ClaimsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	itemID := pathID(r)
	result, err := h.Claims.Create(r.Context(), itemID, req.VerificationInfo)
	if err != nil {
		if errors.Is(err, verify.ErrVerificationMismatch) {
			log.Warn().Str("item_id", itemID).Str("remote_addr", r.RemoteAddr).Msg("claim verification failed")
		}
		claimError(w, r, err)
		return
	}

	ticket, err := auth.GenerateTicket(h.TicketSecret, result.Claim.ID, itemID)
	if err != nil {
		internalError(w, r, err, "failed to issue claim ticket")
		return
	}

	jsonResponse(w, http.StatusCreated, createClaimResponse{Result: result, Ticket: ticket})
}

// Get handles GET /api/claims/{id}. Pickup details are included since the
// ticket proves the claimant passed verification.
func (h *ClaimsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claim, err := h.Claims.Get(r.Context(), pathID(r))
	if err != nil {
		claimError(w, r, err)
		return
	}

	view := claimView{Claim: claim}
	item, err := store.GetItem(r.Context(), h.DB, claim.ItemID)
	if err != nil {
		internalError(w, r, err, "failed to get item")
		return
	}
	if item != nil {
		view.Pickup = &claims.Pickup{
			ContactInfo: item.ContactInfo,
			Locations:   item.SuggestedPickupLocations,
			Deadline:    claim.PickupDeadline(),
		}
	}
	jsonResponse(w, http.StatusOK, view)
}

// Tip handles POST /api/claims/{id}/tip. A 202 only means the payer was
// prompted; the claim completes when the gateway calls back.
func (h *ClaimsHandler) Tip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket := GetTicket(r.Context())
	ack, err := h.Payments.InitiateTip(r.Context(), ticket.ClaimID, ticket.ItemID, req.Phone, req.Amount)
	if err != nil {
		claimError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusAccepted, map[string]string{
		"checkout_request_id": ack.CheckoutRequestID,
		"message":             ack.CustomerMessage,
	})
}

// Skip handles POST /api/claims/{id}/skip.
func (h *ClaimsHandler) Skip(w http.ResponseWriter, r *http.Request) {
	claim, err := h.Claims.Skip(r.Context(), pathID(r))
	if err != nil {
		claimError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, claim)
}

// Feedback handles PUT /api/claims/{id}/feedback.
func (h *ClaimsHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := h.Claims.Feedback(r.Context(), pathID(r), req.Rating, req.Referral)
	if err != nil {
		claimError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, claim)
}

// List handles GET /api/claims.
func (h *ClaimsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := store.ListClaims(r.Context(), h.DB, r.URL.Query().Get("item_id"), r.URL.Query().Get("status"))
	if err != nil {
		internalError(w, r, err, "failed to list claims")
		return
	}
	if list == nil {
		list = []model.Claim{}
	}
	jsonResponse(w, http.StatusOK, list)
}

// Stale handles GET /api/claims/stale.
func (h *ClaimsHandler) Stale(w http.ResponseWriter, r *http.Request) {
	list, err := h.Claims.Stale(r.Context(), time.Now())
	if err != nil {
		internalError(w, r, err, "failed to list stale claims")
		return
	}
	if list == nil {
		list = []model.Claim{}
	}
	jsonResponse(w, http.StatusOK, list)
}
