package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/snapbuy/snapbuy/internal/affiliate"
	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/database"
	"github.com/snapbuy/snapbuy/internal/llm"
	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
	"github.com/snapbuy/snapbuy/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records outbound calls instead of talking to Telegram.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	fileURL  string
	failSend func(c tgbotapi.Chattable) error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		if err := f.failSend(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: 100 + f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("file not found")
	}
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range f.sent {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeAPI) deletes() []tgbotapi.DeleteMessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DeleteMessageConfig
	for _, c := range f.requests {
		if d, ok := c.(tgbotapi.DeleteMessageConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type fakeIdentifier struct {
	result llm.Result
	panics bool
	calls  int
}

func (f *fakeIdentifier) IdentifyProduct(context.Context, []byte, string) llm.Result {
	f.calls++
	if f.panics {
		panic("vision model exploded")
	}
	return f.result
}

func (f *fakeIdentifier) Provider() string { return "fake" }

type brokenStore struct{}

func (brokenStore) GetLanguage(context.Context, int64) (string, bool, error) {
	return "", false, errors.New("database is locked")
}
func (brokenStore) SetLanguage(context.Context, int64, string) error {
	return errors.New("database is locked")
}
func (brokenStore) EnsureLanguage(context.Context, int64, string) error {
	return errors.New("database is locked")
}
func (brokenStore) Close() error { return nil }

type testEnv struct {
	bot     *Bot
	api     *fakeAPI
	store   database.LanguageStore
	metrics *metrics.Collector
}

func newTestEnv(t testing.TB, store database.LanguageStore, identifier productIdentifier) *testEnv {
	t.Helper()

	photoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 'J', 'F', 'I', 'F'})
	}))
	t.Cleanup(photoServer.Close)

	if store == nil {
		store = database.NewMemoryStore()
	}
	prefs, err := database.NewPreferences(store, "ar")
	require.NoError(t, err)

	builder, err := affiliate.NewBuilder("chop07c-20", nil, "")
	require.NoError(t, err)

	api := &fakeAPI{fileURL: photoServer.URL}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	bot := newBot(api, prefs, identifier, builder, collector, "@SAID_BEN_01")

	return &testEnv{bot: bot, api: api, store: store, metrics: collector}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, LanguageCode: "en"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}}
}

func photoUpdate(userID int64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
			{FileID: "large", Width: 1280, Height: 960, FileSize: 90000},
			{FileID: "medium", Width: 320, Height: 240, FileSize: 9000},
		},
	}}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{
			MessageID: 55,
			Chat:      &tgbotapi.Chat{ID: userID},
		},
		Data: data,
	}}
}

func keyboardOf(t *testing.T, markup interface{}) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	switch k := markup.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		return k
	case *tgbotapi.InlineKeyboardMarkup:
		require.NotNil(t, k)
		return *k
	}
	t.Fatalf("unexpected reply markup %T", markup)
	return tgbotapi.InlineKeyboardMarkup{}
}

func urlButtons(k tgbotapi.InlineKeyboardMarkup) []string {
	var urls []string
	for _, row := range k.InlineKeyboard {
		for _, button := range row {
			if button.URL != nil {
				urls = append(urls, *button.URL)
			}
		}
	}
	return urls
}

func TestTextMessage_EnglishLink(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})
	require.NoError(t, env.store.SetLanguage(context.Background(), 1, "en"))

	env.bot.processUpdate(context.Background(), textUpdate(1, "red running shoes"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].ParseMode)
	assert.Contains(t, msgs[0].Text, "<code>red running shoes</code>")
	assert.Contains(t, msgs[0].Text, "AMAZON.COM")

	keyboard := keyboardOf(t, msgs[0].ReplyMarkup)
	assert.Equal(t, []string{"https://www.amazon.com/s?k=red+running+shoes&tag=chop07c-20"}, urlButtons(keyboard))
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Len(t, keyboard.InlineKeyboard[0], 1, "text replies carry exactly one button")

	count, err := testutil.GatherAndCount(env.metrics.Registry(), "snapbuy_links_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTextMessage_DefaultLanguageRecorded(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), textUpdate(2, "Samsung Galaxy S24"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "المنتج")
	assert.Equal(t, []string{"https://www.amazon.com/s?k=Samsung+Galaxy+S24&tag=chop07c-20"},
		urlButtons(keyboardOf(t, msgs[0].ReplyMarkup)))

	lang, found, err := env.store.GetLanguage(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ar", lang)
}

func TestTextMessage_EscapesHTML(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), textUpdate(3, "<b>AT&T</b> router"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "&lt;b&gt;AT&amp;T&lt;/b&gt; router")
}

func TestTextMessage_WhitespaceIgnored(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), textUpdate(4, "   \n  "))

	assert.Empty(t, env.api.messages())
	_, found, _ := env.store.GetLanguage(context.Background(), 4)
	assert.False(t, found)
}

func TestLanguageCallbackThenFrenchText(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})
	ctx := context.Background()

	env.bot.processUpdate(ctx, callbackUpdate(7, "lang:fr"))

	// The callback is answered and the keyboard message becomes the confirmation.
	require.NotEmpty(t, env.api.requests)
	_, answered := env.api.requests[0].(tgbotapi.CallbackConfig)
	assert.True(t, answered)

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, 55, edits[0].MessageID)
	assert.Equal(t, locale.Text("fr", locale.LanguageSaved), edits[0].Text)

	env.bot.processUpdate(ctx, textUpdate(7, "café"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "AMAZON.FR")
	assert.Equal(t, []string{"https://www.amazon.fr/s?k=caf%C3%A9&tag=chop07c-20"},
		urlButtons(keyboardOf(t, msgs[0].ReplyMarkup)))
}

func TestLanguageCallback_Legacy(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), callbackUpdate(8, "setlang_en"))

	lang, found, err := env.store.GetLanguage(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "en", lang)
}

func TestLanguageCallback_Unsupported(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), callbackUpdate(9, "lang:de"))

	_, found, _ := env.store.GetLanguage(context.Background(), 9)
	assert.False(t, found)

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, locale.Text("ar", locale.UnsupportedLanguage), edits[0].Text)
}

func TestLanguageCallback_StorageFailureNeverConfirms(t *testing.T) {
	env := newTestEnv(t, brokenStore{}, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), callbackUpdate(10, "lang:en"))

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, locale.Text("en", locale.StorageError), edits[0].Text)
	assert.NotEqual(t, locale.Text("en", locale.LanguageSaved), edits[0].Text)
}

func TestStorageFailure_TextGetsErrorReply(t *testing.T) {
	env := newTestEnv(t, brokenStore{}, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), textUpdate(11, "kettle"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("en", locale.StorageError), msgs[0].Text)
	assert.NotContains(t, msgs[0].Text, "amazon")
	assert.Nil(t, msgs[0].ReplyMarkup)
}

func TestStorageFailure_PhotoSkipsIdentification(t *testing.T) {
	identifier := &fakeIdentifier{result: llm.Result{ProductName: "Kettle"}}
	env := newTestEnv(t, brokenStore{}, identifier)

	env.bot.processUpdate(context.Background(), photoUpdate(12))

	assert.Zero(t, identifier.calls)
	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("ar", locale.StorageError), msgs[0].Text)
}

func TestPhotoMessage_Identified(t *testing.T) {
	identifier := &fakeIdentifier{result: llm.Result{
		ProductName: "Sony WH-1000XM5",
		Usage:       &llm.Usage{PromptTokens: 260, CompletionTokens: 8, TotalTokens: 268},
	}}
	env := newTestEnv(t, nil, identifier)
	require.NoError(t, env.store.SetLanguage(context.Background(), 13, "en"))

	env.bot.processUpdate(context.Background(), photoUpdate(13))

	// One placeholder that is edited in place: exactly one message remains.
	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("en", locale.Analyzing), msgs[0].Text)

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, 101, edits[0].MessageID)
	assert.Contains(t, edits[0].Text, "<code>Sony WH-1000XM5</code>")

	keyboard := keyboardOf(t, edits[0].ReplyMarkup)
	assert.Equal(t, []string{
		"https://www.amazon.com/s?k=Sony+WH-1000XM5&tag=chop07c-20",
		"https://t.me/SAID_BEN_01",
	}, urlButtons(keyboard))
	assert.Equal(t, 1, identifier.calls)
}

func TestPhotoMessage_UnreachableModel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	client := llm.NewClient(&config.Config{
		LLMProvider: config.ProviderGemini,
		LLMToken:    "test-key",
		LLMModel:    config.DefaultGeminiModel,
		LLMEndpoint: endpoint,
		LLMTimeout:  2 * time.Second,
	})
	env := newTestEnv(t, nil, client)

	env.bot.processUpdate(context.Background(), photoUpdate(14))

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, locale.Text("ar", locale.NotIdentified), edits[0].Text)
	assert.Nil(t, edits[0].ReplyMarkup)

	msgs := env.api.messages()
	require.Len(t, msgs, 1, "the placeholder is the only message left")
	assert.Equal(t, 101, edits[0].MessageID)
	assert.Empty(t, env.api.deletes())

	for _, m := range msgs {
		assert.NotContains(t, m.Text, "amazon")
	}
	assert.NotContains(t, edits[0].Text, "amazon")
}

func TestPhotoMessage_PlaceholderFailed(t *testing.T) {
	identifier := &fakeIdentifier{result: llm.Result{ProductName: "Kindle"}}
	env := newTestEnv(t, nil, identifier)

	failedOnce := false
	env.api.failSend = func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.MessageConfig); ok && !failedOnce {
			failedOnce = true
			return errors.New("Too Many Requests")
		}
		return nil
	}

	env.bot.processUpdate(context.Background(), photoUpdate(15))

	assert.Empty(t, env.api.edits())
	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "<code>Kindle</code>")
}

func TestPhotoMessage_EditFailedFallsBackToNewMessage(t *testing.T) {
	identifier := &fakeIdentifier{result: llm.Result{ProductName: "Kindle"}}
	env := newTestEnv(t, nil, identifier)
	env.api.failSend = func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			return errors.New("message to edit not found")
		}
		return nil
	}

	env.bot.processUpdate(context.Background(), photoUpdate(16))

	msgs := env.api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "<code>Kindle</code>")

	deletes := env.api.deletes()
	require.Len(t, deletes, 1)
	assert.Equal(t, 101, deletes[0].MessageID)
}

func TestPhotoMessage_DownloadFailure(t *testing.T) {
	identifier := &fakeIdentifier{result: llm.Result{ProductName: "Kindle"}}
	env := newTestEnv(t, nil, identifier)
	env.api.fileURL = ""

	env.bot.processUpdate(context.Background(), photoUpdate(17))

	assert.Zero(t, identifier.calls)
	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, locale.Text("ar", locale.GenericError), edits[0].Text)
}

func TestProcessUpdate_PanicIsContained(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{panics: true})

	assert.NotPanics(t, func() {
		env.bot.processUpdate(context.Background(), photoUpdate(18))
	})

	msgs := env.api.messages()
	require.Len(t, msgs, 1, "only the placeholder is ever sent")
	assert.Equal(t, locale.Text("ar", locale.Analyzing), msgs[0].Text)

	edits := env.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, 101, edits[0].MessageID)
	assert.Equal(t, locale.Text("ar", locale.GenericError), edits[0].Text)
	assert.Empty(t, env.api.deletes())

	count, err := testutil.GatherAndCount(env.metrics.Registry(), "snapbuy_handler_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProcessUpdate_PanicWithFailedEditReplacesPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{panics: true})
	env.api.failSend = func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			return errors.New("message to edit not found")
		}
		return nil
	}

	env.bot.processUpdate(context.Background(), photoUpdate(21))

	msgs := env.api.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, locale.Text("ar", locale.GenericError), msgs[1].Text)

	deletes := env.api.deletes()
	require.Len(t, deletes, 1)
	assert.Equal(t, 101, deletes[0].MessageID)
}

type panickingLinks struct{}

func (panickingLinks) Build(string, string) (string, error) { panic("link table corrupted") }
func (panickingLinks) Domain(string) string                 { return "amazon.com" }

func TestProcessUpdate_TextPanicSendsOneReply(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})
	env.bot.links = panickingLinks{}

	assert.NotPanics(t, func() {
		env.bot.processUpdate(context.Background(), textUpdate(22, "kettle"))
	})

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("ar", locale.GenericError), msgs[0].Text)
}

func TestStartCommand(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})

	env.bot.processUpdate(context.Background(), textUpdate(19, "/start"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("ar", locale.Welcome), msgs[0].Text)

	keyboard := keyboardOf(t, msgs[0].ReplyMarkup)
	require.Len(t, keyboard.InlineKeyboard, 1)
	var payloads []string
	for _, button := range keyboard.InlineKeyboard[0] {
		require.NotNil(t, button.CallbackData)
		payloads = append(payloads, *button.CallbackData)
	}
	assert.Equal(t, []string{"lang:ar", "lang:en", "lang:fr"}, payloads)

	_, found, _ := env.store.GetLanguage(context.Background(), 19)
	assert.False(t, found, "/start must not write a preference")
}

func TestStartCommand_BotSuffixAndStoredLanguage(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})
	require.NoError(t, env.store.SetLanguage(context.Background(), 20, "fr"))

	env.bot.processUpdate(context.Background(), textUpdate(20, "/start@snapbuy_bot"))

	msgs := env.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, locale.Text("fr", locale.Welcome), msgs[0].Text)
}

func TestHelpAndUnknownCommands(t *testing.T) {
	env := newTestEnv(t, nil, &fakeIdentifier{})
	require.NoError(t, env.store.SetLanguage(context.Background(), 21, "en"))

	env.bot.processUpdate(context.Background(), textUpdate(21, "/help"))
	env.bot.processUpdate(context.Background(), textUpdate(21, "/deals"))

	msgs := env.api.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, locale.Text("en", locale.Help), msgs[0].Text)
	assert.Equal(t, locale.Text("en", locale.UnknownCommand), msgs[1].Text)
	for _, m := range msgs {
		assert.False(t, strings.Contains(m.Text, "amazon."))
	}
}

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.ch
}

func (f *fakeUpdates) StopReceivingUpdates() {
	close(f.stopped)
}

func TestStart_DispatchesUntilCancelled(t *testing.T) {
	captured, hook := logtest.NewNullLogger()
	previous := logger.Logger
	logger.Logger = captured
	t.Cleanup(func() { logger.Logger = previous })

	env := newTestEnv(t, nil, &fakeIdentifier{})
	updates := &fakeUpdates{ch: make(chan tgbotapi.Update, 1), stopped: make(chan struct{})}
	env.bot.updates = updates

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.bot.Start(ctx) }()

	updates.ch <- textUpdate(22, "mug")

	require.Eventually(t, func() bool { return len(env.api.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	<-updates.stopped

	var stopped *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Bot stopped successfully" {
			stopped = entry
		}
	}
	require.NotNil(t, stopped, "shutdown summary is logged")
	assert.Equal(t, int64(1), stopped.Data["processed"])
	assert.Equal(t, int64(0), stopped.Data["in_flight"])
	assert.Equal(t, 1, stopped.Data["active_users"])
}
