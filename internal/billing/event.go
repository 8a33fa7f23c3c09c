// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"go.leyla.chat/leyla/internal/entitlement"
)

// Stripe event types that change entitlements.
const (
	TypeCheckoutCompleted   stripe.EventType = "checkout.session.completed"
	TypeSubscriptionDeleted stripe.EventType = "customer.subscription.deleted"
)

// metadataUserID is the metadata key holding the user ID on checkout sessions
// and subscriptions.
const metadataUserID = "user_id"

// Event is a decoded webhook event. It is one of [PurchaseCompleted],
// [SubscriptionCancelled] or [Other].
type Event interface {
	ID() string
	isEvent()
}

// PurchaseCompleted means a user paid for a subscription. UserID is empty when
// the checkout carried no client reference.
type PurchaseCompleted struct {
	EventID string
	UserID  entitlement.UserID
}

// SubscriptionCancelled means a subscription ended. UserID is empty when the
// subscription has no user_id metadata.
type SubscriptionCancelled struct {
	EventID string
	UserID  entitlement.UserID
}

// Other is any event type that doesn't affect entitlements.
type Other struct {
	EventID string
	Type    string
}

func (e PurchaseCompleted) ID() string     { return e.EventID }
func (e SubscriptionCancelled) ID() string { return e.EventID }
func (e Other) ID() string                 { return e.EventID }

func (PurchaseCompleted) isEvent()     {}
func (SubscriptionCancelled) isEvent() {}
func (Other) isEvent()                 {}

// checkoutSession is the part of a Stripe checkout.session object we need.
type checkoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// subscription is the part of a Stripe subscription object we need.
type subscription struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// Decode turns a verified Stripe event into an [Event].
func Decode(ev stripe.Event) (Event, error) {
	switch ev.Type {
	case TypeCheckoutCompleted:
		var s checkoutSession
		if err := decodeObject(ev, &s); err != nil {
			return nil, err
		}
		id := entitlement.ParseUserID(s.ClientReferenceID)
		if id.IsZero() {
			id = entitlement.ParseUserID(s.Metadata[metadataUserID])
		}
		return PurchaseCompleted{EventID: ev.ID, UserID: id}, nil
	case TypeSubscriptionDeleted:
		var s subscription
		if err := decodeObject(ev, &s); err != nil {
			return nil, err
		}
		return SubscriptionCancelled{EventID: ev.ID, UserID: entitlement.ParseUserID(s.Metadata[metadataUserID])}, nil
	}
	return Other{EventID: ev.ID, Type: string(ev.Type)}, nil
}

func decodeObject(ev stripe.Event, v any) error {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s event %s has no data.object", ErrMalformedEvent, ev.Type, ev.ID)
	}
	if err := json.Unmarshal(ev.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: decoding %s event %s: %v", ErrMalformedEvent, ev.Type, ev.ID, err)
	}
	return nil
}
