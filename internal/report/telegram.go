// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package report

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// MessageSender sends a plain text message to a Telegram chat.
type MessageSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Telegram is a [Reporter] that forwards anomalies to the bot owner.
type Telegram struct {
	Sender  MessageSender
	ChatID  int64
	Logger  zerolog.Logger
	Include []Kind // if empty, all kinds are forwarded
}

// Report implements [Reporter].
func (t *Telegram) Report(ctx context.Context, kind Kind, detail string) {
	if t.ChatID == 0 || !wanted(t.Include, kind) {
		return
	}
	text := fmt.Sprintf("⚠️ %s\n\n%s", kind, detail)
	if err := t.Sender.SendText(ctx, t.ChatID, text); err != nil {
		t.Logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to forward anomaly to Telegram")
	}
}

func wanted(include []Kind, kind Kind) bool {
	if len(include) == 0 {
		return true
	}
	for _, k := range include {
		if k == kind {
			return true
		}
	}
	return false
}
