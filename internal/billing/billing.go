// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package billing connects Stripe subscriptions to entitlements.
//
// Outbound, [Checkout] creates subscription checkout sessions that carry the
// user ID both as the client reference and as subscription metadata. Inbound,
// [Processor] verifies Stripe webhooks, decodes them into [Event] values and
// grants or revokes entitlements accordingly.
package billing

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrSignatureInvalid is returned when a webhook payload is not signed with
	// the configured secret.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a verified event of a known type can't
	// be decoded. Redelivering it would fail the same way.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrCheckout is matched by every [CheckoutError].
	ErrCheckout = errors.New("checkout failed")
)

// CheckoutError is returned when a checkout session couldn't be created.
type CheckoutError struct {
	Reason string
	Err    error // may be nil
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout: %s: %v", e.Reason, e.Err)
	}
	return "checkout: " + e.Reason
}

func (e *CheckoutError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCheckout, e.Err}
	}
	return []error{ErrCheckout}
}

// Outcomes of webhook processing, used as metric labels.
const (
	outcomeApplied      = "applied"
	outcomeIgnored      = "ignored"
	outcomeUnattributed = "unattributed"
	outcomeRejected     = "rejected"
	outcomeMalformed    = "malformed"
	outcomeFailed       = "failed"
)

// Metrics counts processed webhook events.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics creates [Metrics] and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leyla",
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(m.events)
	return m
}

func (m *Metrics) observe(typ, outcome string) {
	if m == nil {
		return
	}
	if typ == "" {
		typ = "unknown"
	}
	m.events.WithLabelValues(typ, outcome).Inc()
}
