// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"go.leyla.chat/leyla/internal/syncx"
)

// DefaultHealthTimeout bounds a single run of all health checks.
const DefaultHealthTimeout = 5 * time.Second

// Health returns the [HealthHandler] registered on mux at /health, creating it
// if necessary.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "/health" {
		return hh
	}
	ret := &HealthHandler{
		Timeout: DefaultHealthTimeout,
		checks:  syncx.Protect(make(checksMap)),
	}
	mux.Handle("/health", ret)
	return ret
}

// HealthHandler reports whether the service and the backends it depends on
// (entitlement store, usage counter) are reachable.
// A failing check makes the whole response 503.
type HealthHandler struct {
	// Timeout bounds the context passed to checks.
	Timeout time.Duration

	checks *syncx.Protected[checksMap]
}

type checksMap = map[string]HealthFunc

// HealthFunc checks one subsystem. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// RegisterFunc registers the check by the given name. It panics if a check
// with this name is already registered.
//
// Checks run concurrently and must be safe for concurrent use.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("health: health check function with this name already exists")
		}
		checks[name] = f
	})
}

// HealthResponse represents a response of the /health endpoint.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse represents a status of an individual check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var checks checksMap
	h.checks.RAccess(func(m checksMap) {
		checks = make(checksMap, len(m))
		for name, f := range m {
			checks[name] = f
		}
	})

	results := syncx.Protect(make(map[string]CheckResponse, len(checks)))
	var g errgroup.Group
	for name, f := range checks {
		g.Go(func() error {
			res := CheckResponse{Status: "ok", OK: true}
			if err := f(ctx); err != nil {
				res = CheckResponse{Status: err.Error(), OK: false}
			}
			results.Access(func(m map[string]CheckResponse) { m[name] = res })
			return nil
		})
	}
	g.Wait()

	hr := &HealthResponse{OK: true}
	results.RAccess(func(m map[string]CheckResponse) { hr.Checks = m })
	for _, c := range hr.Checks {
		if !c.OK {
			hr.OK = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if hr.OK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	respondJSON(w, hr, true)
}
