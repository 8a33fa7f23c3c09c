// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Leyla is a multilingual Telegram chat companion with a paid subscription.

Every user gets a few free messages. After that, Leyla answers with a link to
a Stripe Checkout page; once Stripe confirms the subscription through its
webhook, the user can talk without limits. When the subscription is cancelled,
premium access is taken away again.

# Usage

	$ leyla [flags...]

Every flag can also be set with an environment variable, and variables can be
kept in a dotenv file (see -env-file). Run leyla -h to see all of them.

# Commands

	/start, /help   list of commands
	/about          who Leyla is
	/reset          start a new conversation
	/premium        subscription status and checkout link
	/status         remaining free messages

The bot owner (TG_OWNER) can also use:

	/grant <id>     give premium access by hand
	/revoke <id>    take premium access away
	/stats          number of subscribers and active conversations

Use /grant to reconcile purchases that were made without a Telegram ID, which
are reported as attribution_missing anomalies.

# Storage

Subscribers are kept in the store given by STORE:

  - mem: keeps them in memory (for development only).
  - file:<path> or <path>.json keeps them in a JSON file.
  - sqlite:<dsn> keeps them in a SQLite database.
  - postgres://... keeps them in a PostgreSQL database.

Free message counters are kept in memory, or in Redis when REDIS_URL is set.

# Endpoints

  - /: status text.
  - /premium?tid=<id>: landing page that starts a checkout for the Telegram user <id>.
  - /premium/success: page shown after a successful payment.
  - /stripe/webhook: Stripe webhook. Subscribe it to checkout.session.completed and customer.subscription.deleted.
  - /telegram: Telegram webhook.
  - /health: health checks.
  - /metrics: Prometheus metrics.
  - /debug/: debug pages, including logs, subscribers and recent anomalies.

# Anomalies

Forged webhooks, purchases without a Telegram ID, checkout and storage failures
and model errors are logged and counted in the leyla_anomalies_total metric.
All but forged webhooks are also sent to the bot owner in Telegram and, when
configured, emailed through Amazon SES (ALERT_EMAIL) or published to Amazon SNS
(ALERT_SNS_TOPIC).

# Render

When RENDER is "true", Leyla runs in production mode, listens on PORT, uses
RENDER_EXTERNAL_URL as its public URL and pings itself periodically to prevent
Render from idling.
*/
package main

import (
	_ "embed"

	"go.leyla.chat/leyla/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
