// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.leyla.chat/leyla/internal/billing"
	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/gate"
	"go.leyla.chat/leyla/internal/version"
	"go.leyla.chat/leyla/internal/web"
)

var (
	//go:embed templates/*.html
	templatesFS embed.FS
	templates   = template.Must(template.ParseFS(templatesFS, "templates/*.html"))
)

const checkoutFailedText = "Der Bezahlvorgang konnte nicht gestartet werden. Versuch es bitte später nochmal."

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()

	e.mux.HandleFunc("GET /{$}", e.handleRoot)
	e.mux.HandleFunc("GET "+gate.CheckoutPath, e.handlePremium)
	e.mux.HandleFunc("POST "+gate.CheckoutPath+"/checkout", e.handleCheckout)
	e.mux.HandleFunc("GET "+gate.CheckoutPath+"/success", e.handleSuccess)
	e.mux.Handle("/stripe/webhook", &billing.WebhookHandler{Processor: e.processor})
	e.mux.Handle("/telegram", e.bot)
	e.mux.Handle("GET /metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	health := web.Health(e.mux)
	health.RegisterFunc("entitlements", pingCheck(e.store))
	health.RegisterFunc("usage", pingCheck(e.counter))

	dbg := web.Debugger(e.mux)
	dbg.KV("Version", version.Version().String())
	dbg.KV("Free quota", e.freeQuota)
	dbg.KV("Model provider", e.modelProvider)
	dbg.KVFunc("Entitled users", func() any {
		users, err := e.store.List(context.Background())
		if err != nil {
			return err.Error()
		}
		return len(users)
	})
	dbg.KVFunc("Conversations", func() any { return e.history.Len() })
	dbg.KVFunc("Anomalies", func() any { return len(e.recorder.Anomalies()) })
	dbg.Handle("logs", "Logs", e.logStream)
	dbg.HandleFunc("entitlements", "Entitled users", e.debugEntitlements)
	dbg.HandleFunc("anomalies", "Recent anomalies", e.debugAnomalies)
}

func (e *engine) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "✅ Leyla is running.")
}

type premiumPage struct {
	TID       string
	FreeQuota int
	Cancelled bool
	Error     string
}

func (e *engine) handlePremium(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	e.render(w, r, http.StatusOK, "premium.html", premiumPage{
		TID:       q.Get("tid"),
		FreeQuota: e.freeQuota,
		Cancelled: q.Get("cancelled") == "1",
	})
}

func (e *engine) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		web.RespondError(w, r, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}
	tid := r.PostFormValue("tid")

	url, err := e.checkout.Start(r.Context(), entitlement.UserID(tid))
	if err != nil {
		// Already reported by the checkout.
		e.render(w, r, http.StatusBadGateway, "premium.html", premiumPage{
			TID:       tid,
			FreeQuota: e.freeQuota,
			Error:     checkoutFailedText,
		})
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

type successPage struct {
	BotURL string
}

func (e *engine) handleSuccess(w http.ResponseWriter, r *http.Request) {
	var page successPage
	if username := e.bot.Username(); username != "" {
		page.BotURL = "https://t.me/" + username
	}
	e.render(w, r, http.StatusOK, "success.html", page)
}

func (e *engine) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		web.RespondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (e *engine) debugEntitlements(w http.ResponseWriter, r *http.Request) {
	users, err := e.store.List(r.Context())
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if users == nil {
		users = []entitlement.UserID{}
	}
	web.RespondJSON(w, users)
}

func (e *engine) debugAnomalies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, a := range e.recorder.Anomalies() {
		fmt.Fprintln(w, a)
	}
}

// debugAuth allows access to /debug/ with DEBUG_TOKEN, given either as a bearer
// token or as the basic auth password. Without a token, debug pages are only
// available in development.
func (e *engine) debugAuth(r *http.Request) bool {
	if e.debugToken == "" {
		return !e.prod
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(tok), []byte(e.debugToken)) == 1
	}
	if _, pass, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(pass), []byte(e.debugToken)) == 1
	}
	return false
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingCheck checks backends that can be pinged. Others, like the in-memory
// ones, are always healthy.
func pingCheck(v any) web.HealthFunc {
	if p, ok := v.(pinger); ok {
		return p.Ping
	}
	return func(context.Context) error { return nil }
}
