// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/gate"
	"go.leyla.chat/leyla/internal/report"
	"go.leyla.chat/leyla/internal/usage"
)

// Verifier checks Stripe webhook signatures.
type Verifier struct {
	// Secret is the endpoint's signing secret (whsec_...).
	Secret string
	// Tolerance is the maximum age of a signature. Zero means the Stripe
	// default of five minutes.
	Tolerance time.Duration
}

// Configured reports whether a signing secret is set.
func (v Verifier) Configured() bool { return strings.TrimSpace(v.Secret) != "" }

// Verify checks that payload was signed by Stripe and parses it. Signature
// failures wrap [ErrSignatureInvalid]; a correctly signed payload that isn't a
// Stripe event wraps [ErrMalformedEvent].
//
// The event's API version isn't checked: only a few fields of the payload are
// read, and they are stable across versions.
func (v Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if !v.Configured() {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret is not configured", ErrSignatureInvalid)
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrSignatureInvalid)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, v.Secret, tolerance); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// Processor applies billing events to entitlements and usage.
//
// Processing one delivery goes through verification, decoding and
// application. A delivery that fails verification never touches any state.
type Processor struct {
	Verifier     Verifier
	Entitlements entitlement.Store
	Usage        usage.Counter
	Reporter     report.Reporter
	Logger       zerolog.Logger
	Metrics      *Metrics // may be nil
}

// Handle verifies, decodes and applies a single webhook delivery.
func (p *Processor) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := p.Verifier.Verify(payload, sigHeader)
	if errors.Is(err, ErrSignatureInvalid) {
		p.reporter().Report(ctx, report.SignatureInvalid, err.Error())
		p.Metrics.observe("", outcomeRejected)
		return err
	}

	var decoded Event
	if err == nil {
		decoded, err = Decode(ev)
	}
	if err != nil {
		p.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("rejecting malformed event")
		p.Metrics.observe(string(ev.Type), outcomeMalformed)
		return err
	}

	outcome, err := p.apply(ctx, decoded)
	p.Metrics.observe(string(ev.Type), outcome)
	return err
}

// Apply applies a decoded event. It fails only when the entitlement store
// can't persist the change; the caller should then make Stripe redeliver the
// event.
func (p *Processor) Apply(ctx context.Context, ev Event) error {
	_, err := p.apply(ctx, ev)
	return err
}

func (p *Processor) apply(ctx context.Context, ev Event) (outcome string, err error) {
	switch ev := ev.(type) {
	case PurchaseCompleted:
		log := p.Logger.With().Str("event_id", ev.EventID).Str("type", string(TypeCheckoutCompleted)).Logger()
		if ev.UserID.IsZero() {
			p.reporter().Report(ctx, report.AttributionMissing,
				fmt.Sprintf("completed checkout in event %s has no client reference: payment received, nobody to grant access to", ev.EventID))
			return outcomeUnattributed, nil
		}
		if err := gate.Grant(ctx, p.Entitlements, p.Usage, ev.UserID); err != nil {
			return outcomeFailed, p.storeFailure(ctx, ev.EventID, err)
		}
		log.Info().Str("user_id", string(ev.UserID)).Msg("granted premium")
		return outcomeApplied, nil

	case SubscriptionCancelled:
		log := p.Logger.With().Str("event_id", ev.EventID).Str("type", string(TypeSubscriptionDeleted)).Logger()
		if ev.UserID.IsZero() {
			p.reporter().Report(ctx, report.AttributionMissing,
				fmt.Sprintf("deleted subscription in event %s has no user_id metadata: access can't be revoked", ev.EventID))
			return outcomeUnattributed, nil
		}
		// Revoke is idempotent. Checking IsEntitled first would turn a failed
		// read into a lost revocation.
		if err := p.Entitlements.Revoke(ctx, ev.UserID); err != nil {
			return outcomeFailed, p.storeFailure(ctx, ev.EventID, err)
		}
		log.Info().Str("user_id", string(ev.UserID)).Msg("revoked premium")
		return outcomeApplied, nil

	case Other:
		p.Logger.Debug().Str("event_id", ev.EventID).Str("type", ev.Type).Msg("ignoring event")
		return outcomeIgnored, nil
	}
	panic(fmt.Sprintf("billing: unexpected event type %T", ev))
}

func (p *Processor) storeFailure(ctx context.Context, eventID string, err error) error {
	err = fmt.Errorf("applying event %s: %w", eventID, err)
	if errors.Is(err, entitlement.ErrStoreWrite) {
		p.reporter().Report(ctx, report.StoreWriteFailure, err.Error())
	}
	p.Logger.Error().Err(err).Str("event_id", eventID).Msg("failed to apply event")
	return err
}

func (p *Processor) reporter() report.Reporter {
	if p.Reporter == nil {
		return report.Nop
	}
	return p.Reporter
}
