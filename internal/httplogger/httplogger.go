// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger logs HTTP traffic with zerolog.
//
// [Middleware] logs requests served by the web server and attaches a request
// logger to their context. [New] wraps an [http.RoundTripper] to log outgoing
// requests, which is useful when debugging calls to Telegram or the model
// providers.
package httplogger

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader is set on every response served through [Middleware].
const RequestIDHeader = "X-Request-Id"

// Middleware returns a middleware that logs every request at info level once
// it's served. The handler can get a logger carrying the request ID with
// [zerolog.Ctx].
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			l := logger.With().Str("request_id", id).Logger()
			r = r.WithContext(l.WithContext(r.Context()))

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			// Log streams would otherwise log themselves.
			if strings.HasPrefix(r.URL.Path, "/debug/logs") {
				return
			}
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("served request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

// Flush lets streaming handlers, like the log stream, work through the
// middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap is used by [http.ResponseController].
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// New creates a new http.RoundTripper that logs outgoing requests at debug
// level. If scrubber is not nil, it's applied to logged URLs and errors, so
// tokens embedded in them, like the Telegram bot token, don't leak.
func New(t http.RoundTripper, logger zerolog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{transport: t, logger: logger, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    zerolog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	ev := t.logger.Debug()
	if err != nil {
		ev = t.logger.Warn().Str("error", t.scrub(err.Error()))
	}
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
	}
	ev.Str("method", r.Method).
		Str("url", t.scrub(r.URL.String())).
		Dur("duration", time.Since(start)).
		Msg("outgoing request")

	return resp, err
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}
