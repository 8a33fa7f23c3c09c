// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service state to systemd with the sd_notify
// protocol. Outside of systemd every function is a no-op.
//
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// State is a sd_notify state assignment.
type State string

const (
	// Ready tells systemd that the webhooks are being served.
	Ready State = "READY=1"
	// Stopping tells systemd that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state that sets the free-form status line shown by
// systemctl status.
func Status(format string, args ...any) State {
	return State("STATUS=" + strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", " "))
}

// Notify sends states to systemd in one datagram. Failures are logged.
func Notify(logger zerolog.Logger, states ...State) {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" || len(states) == 0 {
		return
	}
	if err := send(socket, states); err != nil {
		logger.Warn().Err(err).Msg("systemd: notify failed")
	}
}

func send(socket string, states []State) error {
	addr := &net.UnixAddr{Net: "unixgram", Name: socket}
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	var sb strings.Builder
	for i, st := range states {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(st))
	}
	_, err = conn.Write([]byte(sb.String()))
	return err
}

// WatchdogLoop pings the systemd watchdog at half of WATCHDOG_USEC until ctx
// is done. It returns immediately when the watchdog is not enabled.
func WatchdogLoop(ctx context.Context, logger zerolog.Logger) {
	if os.Getenv("WATCHDOG_USEC") == "" {
		return
	}
	interval, err := watchdogInterval()
	if err != nil {
		logger.Warn().Err(err).Msg("systemd: watchdog disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Notify(logger, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval() (time.Duration, error) {
	usec, err := strconv.Atoi(os.Getenv("WATCHDOG_USEC"))
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if usec <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be positive")
	}
	return time.Duration(usec) * time.Microsecond / 2, nil
}
