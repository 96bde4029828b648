package model

import "time"

// Claim statuses.
const (
	ClaimStatusPending    = "pending"
	ClaimStatusPreClaimed = "pre-claimed"
	ClaimStatusClaimed    = "claimed"
	ClaimStatusRejected   = "rejected"
)

// PickupWindow is how long a claimant has to collect an item after claiming it.
const PickupWindow = 72 * time.Hour

// Claim is one claimant's attempt to take ownership of an item.
// Claims are never deleted.
type Claim struct {
	ID               string            `json:"id"`
	ItemID           string            `json:"item_id"`
	VerificationInfo map[string]string `json:"-"`
	Status           string            `json:"status"`
	ClaimDate        time.Time         `json:"claim_date"`
	TipAmount        *int64            `json:"tip_amount,omitempty"`
	Rating           *int              `json:"rating,omitempty"`
	Referral         *bool             `json:"referral,omitempty"`
	TipMessage       string            `json:"tip_message,omitempty"`
	TipCheckoutID    string            `json:"-"`
	TipPhone         string            `json:"-"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// PickupDeadline returns the end of the advertised pickup window.
func (c *Claim) PickupDeadline() time.Time {
	return c.ClaimDate.Add(PickupWindow)
}

// Open reports whether the claim can still transition.
func (c *Claim) Open() bool {
	return c.Status == ClaimStatusPreClaimed
}
