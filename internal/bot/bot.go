// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot implements the Telegram side of Leyla.
//
// It receives updates through a webhook, answers commands and lets the
// [gate.Gate] decide whether a text message is passed to the language model or
// answered with the paywall.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/chat"
	"go.leyla.chat/leyla/internal/convcache"
	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/gate"
	"go.leyla.chat/leyla/internal/report"
	"go.leyla.chat/leyla/internal/web"
)

// SecretHeader carries the secret token Telegram was given in setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// updateSizeLimit bounds the size of a single webhook delivery.
const updateSizeLimit = 1 << 20

// messageLimit is the maximum length of a Telegram message, in characters.
const messageLimit = 4096

// Bot represents a Leyla bot instance.
type Bot struct {
	api      *tgbotapi.BotAPI
	secret   string
	owner    int64
	gate     *gate.Gate
	history  *convcache.Cache[chat.Message]
	replier  chat.Replier
	persona  string
	reporter report.Reporter
	logger   zerolog.Logger
}

// Opts is the options for creating a new Bot.
type Opts struct {
	// API is the Telegram Bot API client.
	API *tgbotapi.BotAPI
	// Secret is the Telegram Bot API secret token. Webhook requests without it
	// are rejected.
	Secret string
	// Owner is the Telegram ID of the bot owner, who may run admin commands.
	Owner int64
	// Gate decides whether a message is answered.
	Gate *gate.Gate
	// History keeps recent turns of each chat.
	History *convcache.Cache[chat.Message]
	// Replier writes the answers.
	Replier chat.Replier
	// Persona is the system prompt. Defaults to [Persona].
	Persona string
	// Reporter receives model failures.
	Reporter report.Reporter
	Logger   zerolog.Logger
}

// New creates a new Bot.
func New(opts Opts) (*Bot, error) {
	if opts.API == nil || opts.Gate == nil || opts.History == nil || opts.Replier == nil {
		return nil, errors.New("bot: API, Gate, History and Replier are required")
	}
	b := &Bot{
		api:      opts.API,
		secret:   opts.Secret,
		owner:    opts.Owner,
		gate:     opts.Gate,
		history:  opts.History,
		replier:  opts.Replier,
		persona:  opts.Persona,
		reporter: opts.Reporter,
		logger:   opts.Logger.With().Str("component", "bot").Logger(),
	}
	if b.persona == "" {
		b.persona = Persona
	}
	if b.reporter == nil {
		b.reporter = report.Nop
	}
	return b, nil
}

// Username returns the bot's username as reported by getMe.
func (b *Bot) Username() string { return b.api.Self.UserName }

// ServeHTTP handles a Telegram webhook request.
//
// Once the secret is verified and the update decoded, it always responds with
// 200 so Telegram doesn't redeliver a message that was already seen. Failures
// to reply are logged.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(SecretHeader) != b.secret {
		web.RespondJSONError(w, r, web.ErrNotFound)
		return
	}
	if r.Method != http.MethodPost {
		web.RespondJSONError(w, r, web.ErrMethodNotAllowed)
		return
	}

	var upd tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, updateSizeLimit)).Decode(&upd); err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("failed to decode update: %w", web.ErrBadRequest))
		return
	}

	b.HandleUpdate(r.Context(), upd)
	web.RespondJSON(w, ok)
}

var ok = map[string]string{
	"status": "ok",
}

// HandleUpdate processes a single update. Only messages are handled; other
// update kinds are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	log := b.logger.With().
		Int("update_id", upd.UpdateID).
		Int64("chat_id", msg.Chat.ID).
		Int64("user_id", msg.From.ID).
		Logger()
	ctx = log.WithContext(ctx)

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		b.handleText(ctx, msg)
	default:
		log.Debug().Msg("ignoring non-text message")
	}
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	var (
		log    = zerolog.Ctx(ctx)
		id     = entitlement.UserIDFromInt64(msg.From.ID)
		chatID = msg.Chat.ID
	)

	d := b.gate.Decide(ctx, id)
	if !d.Allowed {
		log.Info().Int("used", d.Used).Msg("free quota exhausted, sending paywall")
		b.send(ctx, paywallMessage(chatID, b.gate.FreeQuota, d.CheckoutURL))
		return
	}

	turn := chat.Message{Role: chat.User, Content: msg.Text}
	history := append(b.history.Get(chatID), turn)
	answer, err := b.replier.Reply(ctx, b.persona, history)
	if err != nil {
		log.Error().Err(err).Msg("model failed to reply")
		b.reporter.Report(ctx, report.ModelError, fmt.Sprintf("chat %d: %v", chatID, err))
		b.send(ctx, tgbotapi.NewMessage(chatID, apologyText))
		return
	}
	b.history.Append(chatID, turn, chat.Message{Role: chat.Assistant, Content: answer})

	for _, part := range splitMessage(answer, messageLimit) {
		b.send(ctx, tgbotapi.NewMessage(chatID, part))
	}
}

// SendText sends a plain text message. It implements [report.MessageSender].
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	return err
}

// SetWebhook registers url as the webhook, with the bot's secret token.
func (b *Bot) SetWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url, "allowed_updates": `["message"]`}
	params.AddNonEmpty("secret_token", b.secret)
	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to send message")
	}
}

// splitMessage splits s into parts of at most limit characters, preferring to
// break at newlines.
func splitMessage(s string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(s) > limit {
		cut := len(s)
		n := 0
		for i := range s {
			if n == limit {
				cut = i
				break
			}
			n++
		}
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" || len(parts) == 0 {
		parts = append(parts, s)
	}
	return parts
}
