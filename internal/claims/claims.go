// Package claims drives a claim from verification to completion.
//
// A claim starts pre-claimed, which reserves the item for the claimant and
// discloses pickup details. It ends claimed once the claimant has tipped the
// finder, declined to tip, or there was nobody to tip. Every transition is a
// conditional database update, so concurrent claimants and duplicate payment
// callbacks resolve to exactly one winner.
package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
	"github.com/erazemk/najdeno/internal/verify"
)

var (
	// ErrItemNotFound is returned when the item being claimed does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrItemNotClaimable is returned when the item is no longer pending,
	// including when a concurrent claimant got there first.
	ErrItemNotClaimable = errors.New("item is not available for claiming")

	// ErrClaimNotFound is returned for unknown claim IDs.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrClaimNotOpen is returned when finalizing a claim that is not
	// pre-claimed anymore.
	ErrClaimNotOpen = errors.New("claim is already finalized")

	// ErrInvalidRating is returned for ratings outside 1 to 5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Next steps reported to the claimant after creating a claim.
const (
	StepTip  = "tip"
	StepDone = "done"
)

// OutcomeKind says why a claim was finalized.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeTipPaid     OutcomeKind = "tip-paid"
	OutcomeTipSkipped  OutcomeKind = "tip-skipped"
	OutcomeNoTipNeeded OutcomeKind = "no-tip-needed"
)

// Outcome is how a claim ended. Amount and Message are only used for
// OutcomeTipPaid.
type Outcome struct {
	Kind    OutcomeKind
	Amount  int64
	Message string
}

// Pickup holds the collection details revealed once a claim is accepted.
type Pickup struct {
	ContactInfo string    `json:"contact_info,omitempty"`
	Locations   []string  `json:"suggested_pickup_locations,omitempty"`
	Deadline    time.Time `json:"deadline"`
}

// Result is returned by Create.
type Result struct {
	Claim  *model.Claim `json:"claim"`
	Next   string       `json:"next"`
	Pickup Pickup       `json:"pickup"`
}

// Service runs claim transitions against the database.
type Service struct {
	db     *sql.DB
	events events.Publisher
}

// NewService creates a claim service. A nil publisher discards events.
func NewService(db *sql.DB, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{db: db, events: pub}
}

// Create verifies the claimant's answers and, if they match, reserves the
// item. Items without a finder phone have nobody to tip, so their claim is
// finalized straight away.
func (s *Service) Create(ctx context.Context, itemID string, info map[string]string) (*Result, error) {
	item, err := store.GetItem(ctx, s.db, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if item.Status != model.ItemStatusPending {
		return nil, ErrItemNotClaimable
	}

	if err := verify.Check(item.Type, info, item.ExtractedInfo); err != nil {
		return nil, err
	}

	claim, err := store.PreClaimItem(ctx, s.db, itemID, info)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrItemNotClaimable
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("item_id", itemID).Str("claim_id", claim.ID).Msg("item pre-claimed")
	s.publish(ctx, events.KindItemStatusChanged, itemID, claim.ID, model.ItemStatusPreClaimed)
	s.publish(ctx, events.KindClaimStatusChanged, itemID, claim.ID, claim.Status)

	result := &Result{
		Claim: claim,
		Next:  StepTip,
		Pickup: Pickup{
			ContactInfo: item.ContactInfo,
			Locations:   item.SuggestedPickupLocations,
			Deadline:    claim.PickupDeadline(),
		},
	}

	if !item.TipsFinder() {
		done, err := s.Finalize(ctx, claim.ID, Outcome{Kind: OutcomeNoTipNeeded})
		if err != nil {
			return nil, fmt.Errorf("finalizing claim without tip: %w", err)
		}
		result.Claim = done
		result.Next = StepDone
	}

	return result, nil
}

// Finalize completes a pre-claimed claim and marks its item claimed.
// Finalizing a claim that is already closed returns ErrClaimNotOpen and
// changes nothing.
func (s *Service) Finalize(ctx context.Context, claimID string, o Outcome) (*model.Claim, error) {
	var c store.Completion
	switch o.Kind {
	case OutcomeTipPaid:
		amount := o.Amount
		c.TipAmount = &amount
		c.TipMessage = o.Message
	case OutcomeTipSkipped, OutcomeNoTipNeeded:
	default:
		return nil, fmt.Errorf("unknown claim outcome %q", o.Kind)
	}

	claim, err := store.CompleteClaim(ctx, s.db, claimID, c)
	if errors.Is(err, store.ErrConflict) {
		existing, err := store.GetClaim(ctx, s.db, claimID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrClaimNotFound
		}
		return nil, ErrClaimNotOpen
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("claim_id", claimID).
		Str("item_id", claim.ItemID).
		Str("outcome", string(o.Kind)).
		Msg("claim finalized")
	s.publish(ctx, events.KindClaimStatusChanged, claim.ItemID, claim.ID, claim.Status)
	s.publish(ctx, events.KindItemStatusChanged, claim.ItemID, claim.ID, model.ItemStatusClaimed)

	return claim, nil
}

// Skip finalizes a claim whose claimant declined to tip.
func (s *Service) Skip(ctx context.Context, claimID string) (*model.Claim, error) {
	return s.Finalize(ctx, claimID, Outcome{Kind: OutcomeTipSkipped})
}

// Feedback stores the claimant's optional rating and whether they would
// recommend the service. Nil values are left as they were.
func (s *Service) Feedback(ctx context.Context, claimID string, rating *int, referral *bool) (*model.Claim, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, ErrInvalidRating
	}

	claim, err := store.GetClaim(ctx, s.db, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}

	if err := store.SetClaimFeedback(ctx, s.db, claimID, rating, referral); err != nil {
		return nil, err
	}
	return store.GetClaim(ctx, s.db, claimID)
}

// Get returns a claim by ID.
func (s *Service) Get(ctx context.Context, claimID string) (*model.Claim, error) {
	claim, err := store.GetClaim(ctx, s.db, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

// Stale lists claims still pre-claimed after the pickup window. They are
// reported only; nothing expires them.
func (s *Service) Stale(ctx context.Context, now time.Time) ([]model.Claim, error) {
	return store.ListClaimsOpenedBefore(ctx, s.db, now.Add(-model.PickupWindow))
}

func (s *Service) publish(ctx context.Context, kind, itemID, claimID, status string) {
	err := s.events.Publish(ctx, events.Event{
		Kind:    kind,
		ItemID:  itemID,
		ClaimID: claimID,
		Status:  status,
		At:      time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Str("item_id", itemID).Msg("publishing event")
	}
}
