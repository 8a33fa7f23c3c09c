// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package billing

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.leyla.chat/leyla/internal/web"
)

// WebhookBodyLimit is the largest webhook payload accepted.
const WebhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler serves the Stripe webhook endpoint.
//
// Forged or malformed deliveries get 400, so Stripe stops retrying them.
// Store failures get 500, so Stripe redelivers the event later. Everything else,
// including event types we don't care about, gets 200.
type WebhookHandler struct {
	Processor *Processor
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// ServeHTTP implements [http.Handler].
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		web.RespondJSONError(w, r, web.ErrMethodNotAllowed)
		return
	}
	if !h.Processor.Verifier.Configured() {
		web.RespondJSONError(w, r, fmt.Errorf("webhook secret not configured: %w", web.ErrServiceUnavailable))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, WebhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("failed to read request body: %w", web.ErrBadRequest))
		return
	}

	err = h.Processor.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		web.RespondJSON(w, webhookReceivedResponse{Received: true})
	case errors.Is(err, ErrSignatureInvalid):
		web.RespondJSONError(w, r, fmt.Errorf("invalid Stripe signature: %w", web.ErrBadRequest))
	case errors.Is(err, ErrMalformedEvent):
		web.RespondJSONError(w, r, fmt.Errorf("malformed event: %w", web.ErrBadRequest))
	default:
		// The processor has already logged the details.
		web.RespondJSONError(w, r, fmt.Errorf("processing failed: %w", web.ErrInternalServerError))
	}
}
