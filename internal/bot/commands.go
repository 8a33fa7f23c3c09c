// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/entitlement"
)

// Persona is the default system prompt.
const Persona = "Du bist Leyla, eine warmherzige, charmante und mehrsprachige Gesprächspartnerin. " +
	"Erkenne automatisch die Sprache des Benutzers und antworte in dieser Sprache. " +
	"Sprich locker, freundlich und mit etwas Emotion, so als wärst du eine echte Person."

const (
	helpText = "👋 *Befehle, die du verwenden kannst:*\n\n" +
		"📖 /about – Vorstellung von Leyla\n" +
		"🔄 /reset – Neues Gespräch starten\n" +
		"💎 /premium – Leyla Premium\n" +
		"📊 /status – Dein Kontingent\n" +
		"💬 Einfach schreiben – Leyla antwortet automatisch!"

	aboutText = "💖 *Hey, ich bin Leyla!*\n\n" +
		"Ich bin eine freundliche, humorvolle und empathische Gesprächspartnerin. " +
		"Ich höre dir zu, motiviere dich und helfe dir mit Rat, Spaß oder einfach einem offenen Ohr. 🤗\n\n" +
		"Ich bin KI-basiert, aber mein Ziel ist es, mich wie eine echte Person anzufühlen – warm, menschlich und echt."

	ownerHelpText = "\n\n🛠 *Admin:*\n" +
		"/grant <id> – Premium freischalten\n" +
		"/revoke <id> – Premium entziehen\n" +
		"/stats – Statistik"

	resetText       = "🧹 Neues Gespräch gestartet. Womit möchtest du beginnen?"
	apologyText     = "⚠️ Es gab ein technisches Problem. Versuch es bitte später nochmal."
	paywallText     = "💎 Du hast deine %d kostenlosen Nachrichten aufgebraucht. Mit Leyla Premium können wir unbegrenzt weiterreden."
	premiumText     = "💎 Mit Leyla Premium schreibst du ohne Limit. Tippe auf den Button, um dein Abo abzuschließen."
	premiumHasText  = "💎 Du hast bereits Leyla Premium. Danke für deine Unterstützung!"
	statusPremium   = "💎 Premium aktiv: unbegrenzte Nachrichten."
	statusFree      = "🆓 Noch %d von %d kostenlosen Nachrichten übrig."
	subscribeButton = "💖 Premium holen"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	owner := b.owner != 0 && msg.From.ID == b.owner

	switch msg.Command() {
	case "start", "help":
		text := helpText
		if owner {
			text += ownerHelpText
		}
		b.send(ctx, markdownMessage(chatID, text))
	case "about":
		b.send(ctx, markdownMessage(chatID, aboutText))
	case "reset":
		b.history.Reset(chatID)
		b.send(ctx, tgbotapi.NewMessage(chatID, resetText))
	case "premium":
		b.handlePremium(ctx, msg)
	case "status":
		b.handleStatus(ctx, msg)
	case "grant", "revoke", "stats":
		if !owner {
			b.send(ctx, markdownMessage(chatID, helpText))
			return
		}
		b.handleAdmin(ctx, msg)
	default:
		b.send(ctx, markdownMessage(chatID, helpText))
	}
}

func (b *Bot) handlePremium(ctx context.Context, msg *tgbotapi.Message) {
	id := entitlement.UserIDFromInt64(msg.From.ID)
	if b.gate.Entitlements.IsEntitled(ctx, id) {
		b.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, premiumHasText))
		return
	}
	m := tgbotapi.NewMessage(msg.Chat.ID, premiumText)
	m.ReplyMarkup = subscribeKeyboard(b.gate.CheckoutURL(id))
	b.send(ctx, m)
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	id := entitlement.UserIDFromInt64(msg.From.ID)
	text := statusPremium
	if left := b.gate.Remaining(ctx, id); left >= 0 {
		text = fmt.Sprintf(statusFree, left, b.gate.FreeQuota)
	}
	b.send(ctx, tgbotapi.NewMessage(msg.Chat.ID, text))
}

// handleAdmin runs owner commands. /grant and /revoke exist to reconcile
// purchases that arrived without a user ID.
func (b *Bot) handleAdmin(ctx context.Context, msg *tgbotapi.Message) {
	var (
		chatID = msg.Chat.ID
		store  = b.gate.Entitlements
		log    = zerolog.Ctx(ctx)
	)

	if msg.Command() == "stats" {
		users, err := store.List(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to list entitled users")
			b.send(ctx, tgbotapi.NewMessage(chatID, "⚠️ "+err.Error()))
			return
		}
		b.send(ctx, tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"📊 Premium-Nutzer: %d\n💬 Aktive Gespräche: %d", len(users), b.history.Len(),
		)))
		return
	}

	id := entitlement.ParseUserID(msg.CommandArguments())
	if id.IsZero() {
		b.send(ctx, tgbotapi.NewMessage(chatID, fmt.Sprintf("Nutzung: /%s <id>", msg.Command())))
		return
	}

	var err error
	switch msg.Command() {
	case "grant":
		err = b.gate.Grant(ctx, id)
	case "revoke":
		err = store.Revoke(ctx, id)
	}
	if err != nil {
		log.Error().Err(err).Str("target", id.String()).Msgf("/%s failed", msg.Command())
		b.send(ctx, tgbotapi.NewMessage(chatID, "⚠️ "+err.Error()))
		return
	}
	log.Info().Str("target", id.String()).Msgf("/%s by owner", msg.Command())
	b.send(ctx, tgbotapi.NewMessage(chatID, fmt.Sprintf("✅ /%s %s", msg.Command(), id)))
}

func paywallMessage(chatID int64, quota int, checkoutURL string) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, fmt.Sprintf(paywallText, quota))
	m.ReplyMarkup = subscribeKeyboard(checkoutURL)
	return m
}

func subscribeKeyboard(checkoutURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(subscribeButton, checkoutURL),
		),
	)
}

func markdownMessage(chatID int64, text string) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	return m
}
