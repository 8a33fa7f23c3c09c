// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gate decides whether a user may talk to the bot.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/usage"
)

// CheckoutPath is the landing page that starts a subscription checkout. The
// user ID is passed verbatim in the tid query parameter.
const CheckoutPath = "/premium"

// Decision is the outcome of [Gate.Decide].
type Decision struct {
	// Allowed reports whether the interaction may proceed.
	Allowed bool
	// CheckoutURL is where a denied user can subscribe. Empty when allowed.
	CheckoutURL string
	// Used is the number of free interactions consumed before this one. It is
	// zero for entitled users, whose usage isn't checked.
	Used int
}

// Gate combines entitlements and free usage into an allow or deny decision.
type Gate struct {
	Entitlements entitlement.Store
	Usage        usage.Counter
	// FreeQuota is the number of interactions allowed without entitlement.
	FreeQuota int
	// BaseURL is the public URL of the bot's web server, without a trailing
	// slash.
	BaseURL string
}

// New returns a [Gate], validating its configuration.
func New(store entitlement.Store, counter usage.Counter, freeQuota int, baseURL string) (*Gate, error) {
	if store == nil || counter == nil {
		return nil, errors.New("gate: entitlement store and usage counter are required")
	}
	if freeQuota < 0 {
		return nil, fmt.Errorf("gate: free quota must not be negative, got %d", freeQuota)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("gate: invalid base URL: %w", err)
	}
	return &Gate{
		Entitlements: store,
		Usage:        counter,
		FreeQuota:    freeQuota,
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Decide lets entitled users through unconditionally. Everyone else spends one
// free interaction; once FreeQuota interactions were spent, they are denied
// and pointed at the checkout page.
func (g *Gate) Decide(ctx context.Context, id entitlement.UserID) Decision {
	if g.Entitlements.IsEntitled(ctx, id) {
		return Decision{Allowed: true}
	}
	used := g.Usage.ConsumeOne(ctx, id)
	if used < g.FreeQuota {
		return Decision{Allowed: true, Used: used}
	}
	return Decision{CheckoutURL: g.CheckoutURL(id), Used: used}
}

// Grant gives id premium access and starts its free usage over, so that a
// later revocation leaves the user with a fresh quota. Purchases and manual
// grants by the owner both go through it.
func Grant(ctx context.Context, store entitlement.Store, counter usage.Counter, id entitlement.UserID) error {
	if err := store.Grant(ctx, id); err != nil {
		return err
	}
	counter.Reset(ctx, id)
	return nil
}

// Grant is like the package-level [Grant], using g's store and counter.
func (g *Gate) Grant(ctx context.Context, id entitlement.UserID) error {
	return Grant(ctx, g.Entitlements, g.Usage, id)
}

// Remaining returns how many free interactions id has left, without spending
// any. Entitled users get -1, meaning unlimited.
func (g *Gate) Remaining(ctx context.Context, id entitlement.UserID) int {
	if g.Entitlements.IsEntitled(ctx, id) {
		return -1
	}
	return max(g.FreeQuota-g.Usage.Used(ctx, id), 0)
}

// CheckoutURL returns the landing page URL for id.
func (g *Gate) CheckoutURL(id entitlement.UserID) string {
	return CheckoutURL(g.BaseURL, id)
}

// CheckoutURL returns the landing page URL for id under baseURL.
func CheckoutURL(baseURL string, id entitlement.UserID) string {
	q := url.Values{"tid": {string(id)}}
	return strings.TrimSuffix(baseURL, "/") + CheckoutPath + "?" + q.Encode()
}
