// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.leyla.chat/leyla/internal/request"
	"go.leyla.chat/leyla/internal/systemd"
)

// serving is called once the server accepts connections.
func (e *engine) serving(addr string) {
	systemd.Notify(e.logger, systemd.Ready, systemd.Status("serving on %s", addr))
	if e.ready != nil {
		e.ready(addr)
	}
}

func (e *engine) setWebhook(ctx context.Context) error {
	if e.host == "" {
		return errNoHost
	}
	u := &url.URL{
		Scheme: "https",
		Host:   e.host,
		Path:   "/telegram",
	}
	if err := e.bot.SetWebhook(ctx, u.String()); err != nil {
		return errors.New(e.scrub(err.Error()))
	}
	e.logger.Info().Str("url", u.String()).Msg("Telegram webhook registered")
	return nil
}

func (e *engine) selfPing(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
				Method:     http.MethodGet,
				URL:        e.baseURL + "/health",
				HTTPClient: e.httpc,
				Scrubber:   e.scrubber,
			})
			if err != nil {
				e.logger.Warn().Err(err).Msg("self-ping failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *engine) cleanupHistory(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.history.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}
