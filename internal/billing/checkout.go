// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package billing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/report"
)

// SessionCreator creates Stripe checkout sessions.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// SessionCreatorFunc adapts an ordinary function to [SessionCreator].
type SessionCreatorFunc func(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// CreateCheckoutSession calls f(ctx, params).
func (f SessionCreatorFunc) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return f(ctx, params)
}

// StripeSessions creates checkout sessions through the Stripe API.
type StripeSessions struct {
	client stripesession.Client
}

// NewStripeSessions returns a [StripeSessions] authenticated with the secret
// API key.
func NewStripeSessions(key string) *StripeSessions {
	return &StripeSessions{client: stripesession.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: strings.TrimSpace(key),
	}}
}

// CreateCheckoutSession implements [SessionCreator].
func (s *StripeSessions) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return s.client.New(params)
}

// Checkout starts subscription checkouts.
type Checkout struct {
	// PriceID is the Stripe price of the subscription (price_...).
	PriceID string
	// BaseURL is the public URL of the bot's web server. Stripe redirects back
	// to it after checkout.
	BaseURL  string
	Sessions SessionCreator
	Reporter report.Reporter
	Logger   zerolog.Logger
}

// Start creates a subscription checkout session for id and returns the URL to
// redirect the user to.
//
// The user ID is attached as the client reference, which comes back in
// checkout.session.completed, and as subscription metadata, which comes back in
// customer.subscription.deleted. An empty id still starts a checkout, but
// without attribution, and reports it.
func (c *Checkout) Start(ctx context.Context, id entitlement.UserID) (string, error) {
	id = entitlement.ParseUserID(string(id))

	priceID := strings.TrimSpace(c.PriceID)
	baseURL := strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	switch {
	case priceID == "":
		return "", c.fail(ctx, id, &CheckoutError{Reason: "price ID is not configured"})
	case baseURL == "":
		return "", c.fail(ctx, id, &CheckoutError{Reason: "base URL is not configured"})
	case c.Sessions == nil:
		return "", c.fail(ctx, id, &CheckoutError{Reason: "payment provider is not configured"})
	}

	success := url.Values{}
	cancel := url.Values{"cancelled": {"1"}}
	if !id.IsZero() {
		success.Set("tid", string(id))
		cancel.Set("tid", string(id))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(withQuery(baseURL+"/premium/success", success)),
		CancelURL:  stripe.String(withQuery(baseURL+"/premium", cancel)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.SetIdempotencyKey(uuid.NewString())

	if id.IsZero() {
		c.reporter().Report(ctx, report.AttributionMissing, "checkout started without a user ID: the purchase won't be attributable")
	} else {
		params.ClientReferenceID = stripe.String(string(id))
		params.Metadata = map[string]string{metadataUserID: string(id)}
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataUserID: string(id)},
		}
	}

	session, err := c.Sessions.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", c.fail(ctx, id, &CheckoutError{Reason: "payment provider rejected the request", Err: err})
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", c.fail(ctx, id, &CheckoutError{Reason: "payment provider returned no checkout URL"})
	}

	c.Logger.Info().Str("user_id", string(id)).Str("session_id", session.ID).Msg("checkout session created")
	return session.URL, nil
}

func (c *Checkout) fail(ctx context.Context, id entitlement.UserID, err *CheckoutError) error {
	c.Logger.Error().Err(err).Str("user_id", string(id)).Msg("checkout session creation failed")
	c.reporter().Report(ctx, report.CheckoutError, fmt.Sprintf("user %q: %v", id, err))
	return err
}

func (c *Checkout) reporter() report.Reporter {
	if c.Reporter == nil {
		return report.Nop
	}
	return c.Reporter
}

func withQuery(u string, q url.Values) string {
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}
