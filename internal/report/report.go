// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package report is the single place where operational anomalies of the
// billing and access subsystem are surfaced: forged webhooks, payments that
// can't be attributed to a user, failed checkouts and failed store writes.
//
// A [Reporter] never fails and never panics. Sinks that can fail (Telegram,
// email) log their own failures.
package report

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an anomaly.
type Kind string

const (
	// SignatureInvalid means a webhook payload failed signature verification.
	SignatureInvalid Kind = "signature_invalid"
	// AttributionMissing means a payment event (or a checkout) carries no
	// user ID, so access can't be granted or revoked automatically.
	AttributionMissing Kind = "attribution_missing"
	// CheckoutError means the payment provider refused to create a checkout.
	CheckoutError Kind = "checkout_error"
	// StoreWriteFailure means a durable entitlement write failed.
	StoreWriteFailure Kind = "store_write_failure"
	// ModelError means the language model call failed.
	ModelError Kind = "model_error"
)

// Kinds lists every known anomaly kind.
var Kinds = []Kind{SignatureInvalid, AttributionMissing, CheckoutError, StoreWriteFailure, ModelError}

// PushKinds are the kinds worth sending to a person (Telegram, email, SNS).
// SignatureInvalid is left out: anyone can POST a forged webhook, so it only
// goes to logs and metrics.
var PushKinds = []Kind{AttributionMissing, CheckoutError, StoreWriteFailure, ModelError}

// Reporter receives anomalies.
type Reporter interface {
	Report(ctx context.Context, kind Kind, detail string)
}

// Func adapts an ordinary function to the [Reporter] interface.
type Func func(ctx context.Context, kind Kind, detail string)

// Report calls f(ctx, kind, detail).
func (f Func) Report(ctx context.Context, kind Kind, detail string) { f(ctx, kind, detail) }

// Nop is a [Reporter] that discards everything.
var Nop Reporter = Func(func(context.Context, Kind, string) {})

// Multi fans out every anomaly to all reporters, in order.
func Multi(rs ...Reporter) Reporter {
	rs = slices.DeleteFunc(rs, func(r Reporter) bool { return r == nil })
	return Func(func(ctx context.Context, kind Kind, detail string) {
		for _, r := range rs {
			r.Report(ctx, kind, detail)
		}
	})
}

// Log returns a [Reporter] that writes anomalies to l.
func Log(l zerolog.Logger) Reporter {
	return Func(func(ctx context.Context, kind Kind, detail string) {
		ev := l.Warn()
		if kind == StoreWriteFailure || kind == SignatureInvalid {
			ev = l.Error()
		}
		ev.Str("kind", string(kind)).Msg(detail)
	})
}

// Anomaly is a single recorded anomaly.
type Anomaly struct {
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	Detail string    `json:"detail"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s %s: %s", a.Time.Format(time.RFC3339), a.Kind, a.Detail)
}

// Recorder is a [Reporter] that keeps the most recent anomalies in memory. It
// backs the debug page and is handy in tests.
type Recorder struct {
	mu    sync.Mutex
	limit int
	all   []Anomaly
}

// NewRecorder returns a [Recorder] that keeps at most limit anomalies. A limit
// of zero or less keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Report implements [Reporter].
func (r *Recorder) Report(_ context.Context, kind Kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, Anomaly{Time: time.Now(), Kind: kind, Detail: detail})
	if r.limit > 0 && len(r.all) > r.limit {
		r.all = slices.Delete(r.all, 0, len(r.all)-r.limit)
	}
}

// Anomalies returns a copy of the recorded anomalies, oldest first.
func (r *Recorder) Anomalies() []Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.all)
}

// Count returns the number of recorded anomalies of the given kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, a := range r.all {
		if a.Kind == kind {
			n++
		}
	}
	return n
}
