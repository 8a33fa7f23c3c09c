// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
//
// All fields of ListenAndServeConfig can't be modified after [ListenAndServe]
// is called.
//
// On shutdown, in-flight requests get [ShutdownTimeout] to finish.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Logger receives server lifecycle events and errors from net/http. It is
	// also attached to the context of every request, unless Middleware puts a
	// more specific one there.
	Logger zerolog.Logger
	// Debuggable specifies whether to register debug handlers at /debug/.
	Debuggable bool
	// DebugAuth specifies an optional function that's invoked on every request to
	// debug handlers at /debug/ to allow or deny access to them. If not provided,
	// all access is allowed.
	DebugAuth func(r *http.Request) bool
	// Middleware optionally wraps the whole handler chain.
	Middleware func(http.Handler) http.Handler
	// Ready, if not nil, is called with the listener address once the server
	// accepts connections.
	Ready func(addr string)
}

// ShutdownTimeout is how long in-flight requests get to finish on shutdown.
const ShutdownTimeout = 30 * time.Second

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe starts the HTTP server based on the provided
// [ListenAndServeConfig] and blocks until ctx is canceled or the server fails.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	c.Logger.Info().Str("addr", l.Addr().String()).Msg("listening")

	initInternalRoutes(c)

	var handler http.Handler = protectDebug(c, c.Mux)
	if c.Middleware != nil {
		handler = c.Middleware(handler)
	}

	s := &http.Server{
		ErrorLog:          log.New(c.Logger.With().Str("component", "http").Logger(), "", 0),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return c.Logger.WithContext(context.WithoutCancel(ctx)) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready(l.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.Logger.Info().Msg("gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}

func protectDebug(c *ListenAndServeConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/debug/") || c.DebugAuth == nil {
			next.ServeHTTP(w, r)
			return
		}
		// If access denied, pretend that debug endpoints don't exist.
		if !c.DebugAuth(r) {
			RespondError(w, r, ErrNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func initInternalRoutes(c *ListenAndServeConfig) {
	Health(c.Mux)
	if c.Debuggable {
		Debugger(c.Mux)
	}
}
