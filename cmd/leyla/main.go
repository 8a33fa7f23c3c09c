// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// vim: foldmethod=marker

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go.leyla.chat/leyla/internal/billing"
	"go.leyla.chat/leyla/internal/bot"
	"go.leyla.chat/leyla/internal/chat"
	"go.leyla.chat/leyla/internal/cli"
	"go.leyla.chat/leyla/internal/cli/envflag"
	"go.leyla.chat/leyla/internal/convcache"
	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/gate"
	"go.leyla.chat/leyla/internal/httplogger"
	"go.leyla.chat/leyla/internal/logger"
	"go.leyla.chat/leyla/internal/report"
	"go.leyla.chat/leyla/internal/syncx"
	"go.leyla.chat/leyla/internal/systemd"
	"go.leyla.chat/leyla/internal/usage"
	"go.leyla.chat/leyla/internal/web"
)

func main() { cli.Main(new(engine)) }

// Flags {{{

const defaultAddr = "localhost:10000"

func (e *engine) Flags(fs *flag.FlagSet) {
	e.flags = envflag.New(fs)
	fs.StringVar(&e.envFile, "env-file", ".env", "Load environment variables from `file`, if it exists.")

	envflag.Var(e.flags, &e.addr, "addr", "ADDR", defaultAddr, "Listen on `host:port`.")
	envflag.Var(e.flags, &e.host, "host", "HOST", "", "Public `domain` of the bot, used for the Telegram webhook.")
	envflag.Var(e.flags, &e.baseURL, "base-url", "BASE_URL", "", "Public `URL` of the web server. Defaults to RENDER_EXTERNAL_URL or https://<host>.")
	envflag.Var(e.flags, &e.prod, "prod", "PROD", false, "Run in production mode.")
	envflag.Var(e.flags, &e.debug, "debug", "DEBUG", false, "Log debug messages and outgoing HTTP requests.")
	envflag.Var(e.flags, &e.storeSpec, "store", "STORE", "file:entitlements.json", "Entitlement store: mem:, file:<path>, sqlite:<dsn> or postgres://...")
	envflag.Var(e.flags, &e.redisURL, "redis", "REDIS_URL", "", "Redis `URL` for usage counters. If empty, counters are kept in memory.")
	envflag.Var(e.flags, &e.freeQuota, "free-quota", "FREE_QUOTA", usage.DefaultFreeQuota, "Number of free messages before the paywall.")

	envflag.Var(e.flags, &e.tgToken, "tg-token", "TG_TOKEN", "", "Telegram Bot API `token`.")
	envflag.Var(e.flags, &e.tgSecret, "tg-secret", "TG_SECRET", "", "Telegram webhook secret `token`.")
	envflag.Var(e.flags, &e.tgOwner, "tg-owner", "TG_OWNER", int64(0), "Telegram `ID` of the bot owner.")

	envflag.Var(e.flags, &e.stripeKey, "stripe-key", "STRIPE_KEY", "", "Stripe secret API `key`.")
	envflag.Var(e.flags, &e.stripeWebhookSecret, "stripe-webhook-secret", "STRIPE_WEBHOOK_SECRET", "", "Stripe webhook signing `secret`.")
	envflag.Var(e.flags, &e.stripePriceID, "stripe-price", "STRIPE_PRICE_ID", "", "Stripe `price` of the subscription.")

	envflag.Var(e.flags, &e.modelProvider, "model-provider", "MODEL_PROVIDER", "openai", "Language model `provider`: openai or gemini.")
	envflag.Var(e.flags, &e.openAIKey, "openai-key", "OPENAI_API_KEY", "", "OpenAI API `key`.")
	envflag.Var(e.flags, &e.openAIModel, "openai-model", "OPENAI_MODEL", chat.DefaultOpenAIModel, "OpenAI `model`.")
	envflag.Var(e.flags, &e.geminiKey, "gemini-key", "GEMINI_KEY", "", "Gemini API `key`.")
	envflag.Var(e.flags, &e.geminiModel, "gemini-model", "GEMINI_MODEL", chat.DefaultGeminiModel, "Gemini `model`.")

	envflag.Var(e.flags, &e.alertEmail, "alert-email", "ALERT_EMAIL", "", "Email `address` that receives anomaly reports through SES.")
	envflag.Var(e.flags, &e.alertFrom, "alert-from", "ALERT_FROM", "", "Sender `address` of anomaly reports.")
	envflag.Var(e.flags, &e.alertSNSTopic, "alert-sns-topic", "ALERT_SNS_TOPIC", "", "SNS topic `ARN` that receives anomaly reports.")
	envflag.Var(e.flags, &e.awsRegion, "aws-region", "AWS_REGION", "", "AWS `region` for SES and SNS.")

	envflag.Var(e.flags, &e.debugToken, "debug-token", "DEBUG_TOKEN", "", "Bearer `token` for /debug/. Debug pages are disabled in production without it.")
}

// }}}

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	// Load configuration from the dotenv file and environment variables.
	if err := env.LoadDotenv(e.envFile); err != nil {
		return err
	}
	if e.flags != nil {
		if err := e.flags.Apply(env.Getenv); err != nil {
			return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
		}
	}
	e.onRender = env.Getenv("RENDER") == "true"
	// https://docs.render.com/environment-variables#all-runtimes-1
	if port := env.Getenv("PORT"); port != "" && e.addr == defaultAddr {
		e.addr = ":" + port
	}
	if e.onRender {
		e.prod = true
		e.baseURL = cmp.Or(e.baseURL, env.Getenv("RENDER_EXTERNAL_URL"))
	}
	e.stderr = env.Stderr

	// Initialize internal state.
	if err := e.initialize(ctx); err != nil {
		return err
	}

	// Used in tests.
	if e.noServerStart {
		return nil
	}
	defer e.close()

	// If running in production mode, set the webhook in Telegram Bot API.
	if e.prod {
		if err := e.setWebhook(ctx); err != nil {
			return err
		}
		e.logger.Info().Msg("running in production mode")
	} else {
		e.logger.Info().Msg("running in development mode")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
			Addr:       e.addr,
			Mux:        e.mux,
			Logger:     e.logger,
			Debuggable: true,
			DebugAuth:  e.debugAuth,
			Middleware: httplogger.Middleware(e.logger),
			Ready:      e.serving,
		})
	})
	g.Go(func() error {
		e.cleanupHistory(ctx, historyCleanupInterval)
		return nil
	})
	g.Go(func() error {
		systemd.WatchdogLoop(ctx, e.logger)
		return nil
	})
	// Prevent Render from putting the service to sleep.
	if e.onRender {
		e.logger.Info().Msg("running on Render: starting self-ping goroutine")
		g.Go(func() error {
			e.selfPing(ctx, selfPingInterval)
			return nil
		})
	}
	err := g.Wait()
	systemd.Notify(e.logger, systemd.Stopping)
	return err
}

type engine struct {
	init  syncx.Lazy[error] // main initialization
	flags *envflag.Set

	// initialized by doInit
	bot       *bot.Bot
	checkout  *billing.Checkout
	closers   []io.Closer
	counter   usage.Counter
	gate      *gate.Gate
	history   *convcache.Cache[chat.Message]
	logStream logger.Streamer
	logger    zerolog.Logger
	mux       *http.ServeMux
	processor *billing.Processor
	recorder  *report.Recorder
	registry  *prometheus.Registry
	reporter  report.Reporter
	scrubber  *strings.Replacer
	store     entitlement.Store

	// configuration, read-only after initialization
	addr                string
	alertEmail          string
	alertFrom           string
	alertSNSTopic       string
	awsRegion           string
	baseURL             string
	debug               bool
	debugToken          string
	envFile             string
	freeQuota           int
	geminiKey           string
	geminiModel         string
	host                string
	httpc               *http.Client
	modelProvider       string
	onRender            bool
	openAIKey           string
	openAIModel         string
	prod                bool
	redisURL            string
	stderr              io.Writer
	storeSpec           string
	stripeKey           string
	stripePriceID       string
	stripeWebhookSecret string
	tgOwner             int64
	tgSecret            string
	tgToken             string

	// for tests
	noServerStart bool
	ready         func(addr string) // see web.ListenAndServeConfig.Ready
	replier       chat.Replier
	sessions      billing.SessionCreator
	tgEndpoint    string
}

const (
	anomalyLimit           = 100
	historyCleanupInterval = 10 * time.Minute
	historyMaxTurns        = 20
	historyTTL             = 24 * time.Hour
	logLineLimit           = 300
	selfPingInterval       = 10 * time.Minute
)

var errNoHost = errors.New("host hasn't set; pass it with -host flag or HOST environment variable")

func (e *engine) validate() error {
	if e.tgToken == "" {
		return fmt.Errorf("%w: Telegram token is required; pass it with -tg-token flag or TG_TOKEN environment variable", cli.ErrInvalidArgs)
	}
	if e.freeQuota < 0 {
		return fmt.Errorf("%w: free quota must not be negative", cli.ErrInvalidArgs)
	}
	if e.replier == nil {
		switch e.modelProvider {
		case "openai":
			if e.openAIKey == "" {
				return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai model provider", cli.ErrInvalidArgs)
			}
		case "gemini":
			if e.geminiKey == "" {
				return fmt.Errorf("%w: GEMINI_KEY is required for the gemini model provider", cli.ErrInvalidArgs)
			}
		default:
			return fmt.Errorf("%w: unknown model provider %q", cli.ErrInvalidArgs, e.modelProvider)
		}
	}
	if e.prod {
		if e.host == "" {
			return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, errNoHost)
		}
		if e.tgSecret == "" {
			return fmt.Errorf("%w: TG_SECRET is required in production", cli.ErrInvalidArgs)
		}
	}
	if e.alertEmail != "" && e.alertFrom == "" {
		return fmt.Errorf("%w: ALERT_FROM is required to send anomaly reports by email", cli.ErrInvalidArgs)
	}
	return nil
}

func (e *engine) doInit(ctx context.Context) error {
	if e.stderr == nil {
		e.stderr = os.Stderr
	}
	e.logStream = logger.NewStreamer(logLineLimit)
	e.logger = logger.New(e.stderr, logger.Options{
		JSON:   e.prod,
		Debug:  e.debug,
		Stream: e.logStream,
	})

	if err := e.validate(); err != nil {
		return err
	}

	var scrubPairs []string
	for _, val := range []string{
		e.tgToken,
		e.tgSecret,
		e.stripeKey,
		e.stripeWebhookSecret,
		e.openAIKey,
		e.geminiKey,
		e.debugToken,
	} {
		if val != "" {
			scrubPairs = append(scrubPairs, val, "[EXPUNGED]")
		}
	}
	if len(scrubPairs) > 0 {
		e.scrubber = strings.NewReplacer(scrubPairs...)
	}

	if e.httpc == nil {
		e.httpc = &http.Client{
			// Increase timeout to properly handle model response times.
			Timeout: 60 * time.Second,
		}
	}
	if e.debug {
		e.httpc = &http.Client{
			Timeout:   e.httpc.Timeout,
			Transport: httplogger.New(e.httpc.Transport, e.logger.With().Str("component", "http").Logger(), e.scrubber),
		}
	}

	e.baseURL = strings.TrimSuffix(e.baseURL, "/")
	if e.baseURL == "" {
		if e.host != "" {
			e.baseURL = "https://" + e.host
		} else {
			e.baseURL = "http://" + e.addr
		}
	}

	// Storage.
	store, err := entitlement.Open(ctx, e.storeSpec, e.logger)
	if err != nil {
		return fmt.Errorf("opening entitlement store: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, store)

	if e.redisURL != "" {
		client, err := usage.DialRedis(ctx, e.redisURL)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, client)
		e.counter = usage.NewRedisCounter(client, usage.RedisOptions{}, e.logger)
	} else {
		e.counter = usage.NewMemCounter()
	}

	// Observability.
	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.recorder = report.NewRecorder(anomalyLimit)
	tgReporter := &report.Telegram{ChatID: e.tgOwner, Logger: e.logger, Include: report.PushKinds}
	reporters := []report.Reporter{
		report.Log(e.logger),
		report.NewMetrics(e.registry),
		e.recorder,
		tgReporter,
	}
	if e.alertEmail != "" || e.alertSNSTopic != "" {
		cfg, err := report.LoadAWSConfig(ctx, e.awsRegion)
		if err != nil {
			return err
		}
		if e.alertEmail != "" {
			mail := report.NewMail(cfg, e.alertFrom, e.alertEmail, e.logger)
			mail.Include = report.PushKinds
			reporters = append(reporters, mail)
		}
		if e.alertSNSTopic != "" {
			topic := report.NewSNS(cfg, e.alertSNSTopic, e.logger)
			topic.Include = report.PushKinds
			reporters = append(reporters, topic)
		}
	}
	e.reporter = report.Multi(reporters...)

	// Core.
	e.gate, err = gate.New(e.store, e.counter, e.freeQuota, e.baseURL)
	if err != nil {
		return err
	}
	e.history = convcache.New[chat.Message](historyTTL, historyMaxTurns)

	if e.replier == nil {
		switch e.modelProvider {
		case "openai":
			e.replier = &chat.OpenAI{
				APIKey:     e.openAIKey,
				Model:      e.openAIModel,
				HTTPClient: e.httpc,
			}
		case "gemini":
			g, err := chat.NewGemini(ctx, e.geminiKey, e.geminiModel)
			if err != nil {
				return err
			}
			e.closers = append(e.closers, g)
			e.replier = g
		}
	}

	api, err := tgbotapi.NewBotAPIWithClient(e.tgToken, cmp.Or(e.tgEndpoint, tgbotapi.APIEndpoint), e.httpc)
	if err != nil {
		return fmt.Errorf("connecting to Telegram: %s", e.scrub(err.Error()))
	}
	e.bot, err = bot.New(bot.Opts{
		API:      api,
		Secret:   e.tgSecret,
		Owner:    e.tgOwner,
		Gate:     e.gate,
		History:  e.history,
		Replier:  e.replier,
		Reporter: e.reporter,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}
	tgReporter.Sender = e.bot

	// Billing.
	sessions := e.sessions
	if sessions == nil && e.stripeKey != "" {
		sessions = billing.NewStripeSessions(e.stripeKey)
	}
	e.checkout = &billing.Checkout{
		PriceID:  e.stripePriceID,
		BaseURL:  e.baseURL,
		Sessions: sessions,
		Reporter: e.reporter,
		Logger:   e.logger.With().Str("component", "checkout").Logger(),
	}
	e.processor = &billing.Processor{
		Verifier:     billing.Verifier{Secret: e.stripeWebhookSecret},
		Entitlements: e.store,
		Usage:        e.counter,
		Reporter:     e.reporter,
		Logger:       e.logger.With().Str("component", "billing").Logger(),
		Metrics:      billing.NewMetrics(e.registry),
	}
	if !e.processor.Verifier.Configured() {
		e.logger.Warn().Msg("STRIPE_WEBHOOK_SECRET is not set: Stripe webhooks will be rejected")
	}

	e.initRoutes()

	e.logger.Info().
		Str("bot", e.bot.Username()).
		Str("base_url", e.baseURL).
		Int("free_quota", e.freeQuota).
		Msg("initialized")
	return nil
}

// initialize runs doInit once. If it fails halfway, whatever was already
// opened is closed, so the entitlement file lock and database handles are
// released.
func (e *engine) initialize(ctx context.Context) error {
	return e.init.Get(func() error {
		if err := e.doInit(ctx); err != nil {
			e.close()
			return err
		}
		return nil
	})
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			e.logger.Error().Err(err).Msg("close failed")
		}
	}
	e.closers = nil
}

func (e *engine) scrub(s string) string {
	if e.scrubber == nil {
		return s
	}
	return e.scrubber.Replace(s)
}
