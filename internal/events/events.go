// Package events announces item and claim status changes to whoever is
// listening. Delivery is best effort; the database stays the source of truth.
package events

import (
	"context"
	"errors"
	"time"
)

// Event kinds. They double as RabbitMQ routing keys.
const (
	KindItemCreated        = "item.created"
	KindItemStatusChanged  = "item.status_changed"
	KindClaimStatusChanged = "claim.status_changed"
	KindTipInitiated       = "claim.tip_initiated"
)

// Event describes a single state change.
type Event struct {
	Kind    string    `json:"kind"`
	ItemID  string    `json:"item_id"`
	ClaimID string    `json:"claim_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried
// even if an earlier one fails.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
