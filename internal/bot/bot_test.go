// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/chat"
	"go.leyla.chat/leyla/internal/convcache"
	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/gate"
	"go.leyla.chat/leyla/internal/report"
	"go.leyla.chat/leyla/internal/testutil"
	"go.leyla.chat/leyla/internal/usage"
)

// Typical Telegram Bot API token, copied from docs.
const tgToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

const (
	owner  = 1000
	user   = 42
	secret = "test"
)

type call struct {
	Method string
	Params url.Values
}

type telegram struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (tg *telegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	if method == "getMe" {
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Leyla","username":"leyla_bot"}}`))
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.calls = append(tg.calls, call{Method: method, Params: r.PostForm})
	if tg.fail {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func (tg *telegram) sent() []call {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]call(nil), tg.calls...)
}

func (tg *telegram) texts() []string {
	var texts []string
	for _, c := range tg.sent() {
		texts = append(texts, c.Params.Get("text"))
	}
	return texts
}

type replierFunc func(ctx context.Context, system string, history []chat.Message) (string, error)

func (f replierFunc) Reply(ctx context.Context, system string, history []chat.Message) (string, error) {
	return f(ctx, system, history)
}

func echo(_ context.Context, _ string, history []chat.Message) (string, error) {
	return "echo: " + history[len(history)-1].Content, nil
}

type env struct {
	bot      *Bot
	tg       *telegram
	store    *entitlement.MemStore
	counter  *usage.MemCounter
	history  *convcache.Cache[chat.Message]
	recorder *report.Recorder
}

func testBot(t *testing.T, quota int, replier chat.Replier) *env {
	t.Helper()

	tg := new(telegram)
	mux := http.NewServeMux()
	mux.Handle("POST api.telegram.org/{token}/{method}", tg)
	api, err := tgbotapi.NewBotAPIWithClient(tgToken, tgbotapi.APIEndpoint, testutil.MockHTTPClient(mux))
	if err != nil {
		t.Fatal(err)
	}

	store, counter := entitlement.NewMemStore(), usage.NewMemCounter()
	g, err := gate.New(store, counter, quota, "https://leyla.chat")
	if err != nil {
		t.Fatal(err)
	}
	history := convcache.New[chat.Message](time.Hour, 20)
	recorder := report.NewRecorder(10)

	b, err := New(Opts{
		API:      api,
		Secret:   secret,
		Owner:    owner,
		Gate:     g,
		History:  history,
		Replier:  replier,
		Reporter: recorder,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &env{bot: b, tg: tg, store: store, counter: counter, history: history, recorder: recorder}
}

func message(from int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Test"},
		Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Opts{})
	if err == nil {
		t.Fatal("New with empty options succeeded, want error")
	}
}

func TestUsername(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))
	testutil.AssertEqual(t, e.bot.Username(), "leyla_bot")
}

func TestServeHTTP(t *testing.T) {
	valid, err := json.Marshal(message(user, "hallo"))
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]struct {
		method     string
		secret     string
		body       []byte
		wantStatus int
		wantSent   int
	}{
		"wrong secret": {
			method:     http.MethodPost,
			secret:     "wrong",
			body:       valid,
			wantStatus: http.StatusNotFound,
		},
		"missing secret": {
			method:     http.MethodPost,
			body:       valid,
			wantStatus: http.StatusNotFound,
		},
		"wrong method": {
			method:     http.MethodGet,
			secret:     secret,
			wantStatus: http.StatusMethodNotAllowed,
		},
		"invalid JSON": {
			method:     http.MethodPost,
			secret:     secret,
			body:       []byte("{"),
			wantStatus: http.StatusBadRequest,
		},
		"message": {
			method:     http.MethodPost,
			secret:     secret,
			body:       valid,
			wantStatus: http.StatusOK,
			wantSent:   1,
		},
		"non-message update": {
			method:     http.MethodPost,
			secret:     secret,
			body:       []byte(`{"update_id":2,"edited_message":{"message_id":1}}`),
			wantStatus: http.StatusOK,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := testBot(t, 3, replierFunc(echo))

			r := httptest.NewRequest(tc.method, "/telegram", bytes.NewReader(tc.body))
			if tc.secret != "" {
				r.Header.Set(SecretHeader, tc.secret)
			}
			w := httptest.NewRecorder()
			e.bot.ServeHTTP(w, r)

			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			testutil.AssertEqual(t, len(e.tg.sent()), tc.wantSent)
		})
	}
}

func TestServeHTTPSendFailure(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))
	e.tg.fail = true

	body, err := json.Marshal(message(user, "hallo"))
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/telegram", bytes.NewReader(body))
	r.Header.Set(SecretHeader, secret)
	w := httptest.NewRecorder()
	e.bot.ServeHTTP(w, r)

	// Telegram must not redeliver the update.
	testutil.AssertEqual(t, w.Code, http.StatusOK)
}

func TestPaywallAfterFreeQuota(t *testing.T) {
	e := testBot(t, 2, replierFunc(echo))
	ctx := context.Background()

	for _, text := range []string{"eins", "zwei", "drei"} {
		e.bot.HandleUpdate(ctx, message(user, text))
	}

	sent := e.tg.sent()
	testutil.AssertEqual(t, e.tg.texts(), []string{
		"echo: eins",
		"echo: zwei",
		"💎 Du hast deine 2 kostenlosen Nachrichten aufgebraucht. Mit Leyla Premium können wir unbegrenzt weiterreden.",
	})
	markup := sent[2].Params.Get("reply_markup")
	if !strings.Contains(markup, `"url":"https://leyla.chat/premium?tid=42"`) {
		t.Fatalf("paywall markup %s doesn't contain the checkout URL", markup)
	}

	// Denied messages don't reach the history.
	testutil.AssertEqual(t, e.history.Get(user), []chat.Message{
		{Role: chat.User, Content: "eins"},
		{Role: chat.Assistant, Content: "echo: eins"},
		{Role: chat.User, Content: "zwei"},
		{Role: chat.Assistant, Content: "echo: zwei"},
	})

	// After a purchase the user can talk again.
	if err := e.store.Grant(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	e.bot.HandleUpdate(ctx, message(user, "vier"))
	texts := e.tg.texts()
	testutil.AssertEqual(t, texts[len(texts)-1], "echo: vier")
}

func TestHistoryPassedToReplier(t *testing.T) {
	var (
		gotSystem  string
		gotHistory []chat.Message
	)
	e := testBot(t, 10, replierFunc(func(_ context.Context, system string, history []chat.Message) (string, error) {
		gotSystem, gotHistory = system, history
		return "ok", nil
	}))
	ctx := context.Background()

	e.bot.HandleUpdate(ctx, message(user, "hallo"))
	e.bot.HandleUpdate(ctx, message(user, "wie geht's?"))

	testutil.AssertEqual(t, gotSystem, Persona)
	testutil.AssertEqual(t, gotHistory, []chat.Message{
		{Role: chat.User, Content: "hallo"},
		{Role: chat.Assistant, Content: "ok"},
		{Role: chat.User, Content: "wie geht's?"},
	})
}

func TestModelError(t *testing.T) {
	e := testBot(t, 3, replierFunc(func(context.Context, string, []chat.Message) (string, error) {
		return "", errors.New("quota exceeded")
	}))

	e.bot.HandleUpdate(context.Background(), message(user, "hallo"))

	testutil.AssertEqual(t, e.tg.texts(), []string{apologyText})
	testutil.AssertEqual(t, e.recorder.Count(report.ModelError), 1)
	testutil.AssertEqual(t, e.history.Get(user), []chat.Message(nil))
}

func TestCommands(t *testing.T) {
	cases := map[string]struct {
		from      int64
		text      string
		entitled  bool
		wantText  string
		wantURL   string
		wantParse string
	}{
		"start": {
			from:      user,
			text:      "/start",
			wantText:  helpText,
			wantParse: tgbotapi.ModeMarkdown,
		},
		"help for owner": {
			from:      owner,
			text:      "/help",
			wantText:  helpText + ownerHelpText,
			wantParse: tgbotapi.ModeMarkdown,
		},
		"about": {
			from:      user,
			text:      "/about",
			wantText:  aboutText,
			wantParse: tgbotapi.ModeMarkdown,
		},
		"reset": {
			from:     user,
			text:     "/reset",
			wantText: resetText,
		},
		"premium": {
			from:     user,
			text:     "/premium",
			wantText: premiumText,
			wantURL:  "https://leyla.chat/premium?tid=42",
		},
		"premium when entitled": {
			from:     user,
			text:     "/premium",
			entitled: true,
			wantText: premiumHasText,
		},
		"status": {
			from:     user,
			text:     "/status",
			wantText: "🆓 Noch 3 von 3 kostenlosen Nachrichten übrig.",
		},
		"status when entitled": {
			from:     user,
			text:     "/status",
			entitled: true,
			wantText: statusPremium,
		},
		"unknown command": {
			from:      user,
			text:      "/foo",
			wantText:  helpText,
			wantParse: tgbotapi.ModeMarkdown,
		},
		"admin command from stranger": {
			from:      user,
			text:      "/grant 42",
			wantText:  helpText,
			wantParse: tgbotapi.ModeMarkdown,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := testBot(t, 3, replierFunc(echo))
			ctx := context.Background()
			if tc.entitled {
				if err := e.store.Grant(ctx, entitlement.UserIDFromInt64(tc.from)); err != nil {
					t.Fatal(err)
				}
			}

			e.bot.HandleUpdate(ctx, message(tc.from, tc.text))

			sent := e.tg.sent()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sent))
			}
			testutil.AssertEqual(t, sent[0].Method, "sendMessage")
			testutil.AssertEqual(t, sent[0].Params.Get("text"), tc.wantText)
			testutil.AssertEqual(t, sent[0].Params.Get("parse_mode"), tc.wantParse)
			if tc.wantURL != "" && !strings.Contains(sent[0].Params.Get("reply_markup"), tc.wantURL) {
				t.Fatalf("reply markup %q doesn't contain %q", sent[0].Params.Get("reply_markup"), tc.wantURL)
			}
			// Commands never spend free messages.
			testutil.AssertEqual(t, e.counter.Used(ctx, entitlement.UserIDFromInt64(tc.from)), 0)
			// Strangers can't grant themselves premium.
			testutil.AssertEqual(t, e.store.IsEntitled(ctx, "42"), tc.entitled)
		})
	}
}

func TestResetKeepsUsage(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))
	ctx := context.Background()

	e.bot.HandleUpdate(ctx, message(user, "hallo"))
	e.bot.HandleUpdate(ctx, message(user, "/reset"))

	testutil.AssertEqual(t, e.history.Get(user), []chat.Message(nil))
	testutil.AssertEqual(t, e.counter.Used(ctx, "42"), 1)
}

func TestOwnerCommands(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))
	ctx := context.Background()

	// Manual grants reset free usage like purchases do.
	for range 4 {
		e.counter.ConsumeOne(ctx, "7")
	}
	e.bot.HandleUpdate(ctx, message(owner, "/grant 7"))
	testutil.AssertEqual(t, e.store.IsEntitled(ctx, "7"), true)
	testutil.AssertEqual(t, e.counter.Used(ctx, "7"), 0)

	e.bot.HandleUpdate(ctx, message(owner, "/grant 0008"))
	testutil.AssertEqual(t, e.store.IsEntitled(ctx, "8"), true)

	e.bot.HandleUpdate(ctx, message(owner, "/stats"))

	e.bot.HandleUpdate(ctx, message(owner, "/revoke 7"))
	testutil.AssertEqual(t, e.store.IsEntitled(ctx, "7"), false)

	e.bot.HandleUpdate(ctx, message(owner, "/revoke"))

	testutil.AssertEqual(t, e.tg.texts(), []string{
		"✅ /grant 7",
		"✅ /grant 8",
		"📊 Premium-Nutzer: 2\n💬 Aktive Gespräche: 0",
		"✅ /revoke 7",
		"Nutzung: /revoke <id>",
	})
}

func TestSendText(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))

	if err := e.bot.SendText(context.Background(), owner, "⚠️ signature_invalid"); err != nil {
		t.Fatal(err)
	}
	sent := e.tg.sent()
	testutil.AssertEqual(t, len(sent), 1)
	testutil.AssertEqual(t, sent[0].Params.Get("chat_id"), "1000")
	testutil.AssertEqual(t, sent[0].Params.Get("text"), "⚠️ signature_invalid")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.bot.SendText(ctx, owner, "late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("SendText with canceled context: got %v, want context.Canceled", err)
	}
}

func TestSetWebhook(t *testing.T) {
	e := testBot(t, 3, replierFunc(echo))

	if err := e.bot.SetWebhook(context.Background(), "https://leyla.chat/telegram"); err != nil {
		t.Fatal(err)
	}
	sent := e.tg.sent()
	testutil.AssertEqual(t, len(sent), 1)
	testutil.AssertEqual(t, sent[0].Method, "setWebhook")
	testutil.AssertEqual(t, sent[0].Params.Get("url"), "https://leyla.chat/telegram")
	testutil.AssertEqual(t, sent[0].Params.Get("secret_token"), secret)
}

func TestSplitMessage(t *testing.T) {
	cases := map[string]struct {
		in    string
		limit int
		want  []string
	}{
		"empty":      {in: "", limit: 5, want: []string{""}},
		"short":      {in: "hallo", limit: 5, want: []string{"hallo"}},
		"hard split": {in: "abcdefg", limit: 3, want: []string{"abc", "def", "g"}},
		"at newline": {in: "ab\ncdef", limit: 4, want: []string{"ab\n", "cdef"}},
		"multibyte":  {in: "äöüß", limit: 2, want: []string{"äö", "üß"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, splitMessage(tc.in, tc.limit), tc.want)
		})
	}
}
