package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/snapbuy/snapbuy/internal/affiliate"
	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/database"
	"github.com/snapbuy/snapbuy/internal/llm"
	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
	"github.com/snapbuy/snapbuy/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	// Telegram allows about 30 messages per second per bot.
	globalRateLimit = 30
	// Telegram bots can download files up to 20 MB.
	maxPhotoBytes = 20 << 20

	downloadTimeout = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// botAPI is the subset of *tgbotapi.BotAPI used to talk to users.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// updateSource is the long-polling half of *tgbotapi.BotAPI.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type productIdentifier interface {
	IdentifyProduct(ctx context.Context, image []byte, languageHint string) llm.Result
	Provider() string
}

type linkBuilder interface {
	Build(productName, lang string) (string, error)
	Domain(lang string) string
}

type Bot struct {
	api        botAPI
	updates    updateSource
	username   string
	prefs      *database.Preferences
	identifier productIdentifier
	links      linkBuilder
	metrics    *metrics.Collector
	httpClient *http.Client

	developerUsername string

	// Outbound pacing shared by every chat
	globalLimiter *rate.Limiter

	dispatcher *Dispatcher
}

// NewBot authorizes against the Telegram API and wires the handlers.
func NewBot(cfg *config.Config, prefs *database.Preferences, identifier *llm.Client, links *affiliate.Builder, collector *metrics.Collector) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	b := newBot(api, prefs, identifier, links, collector, cfg.DeveloperUsername)
	b.updates = api
	b.username = api.Self.UserName
	return b, nil
}

func newBot(api botAPI, prefs *database.Preferences, identifier productIdentifier, links linkBuilder, collector *metrics.Collector, developer string) *Bot {
	return &Bot{
		api:               api,
		prefs:             prefs,
		identifier:        identifier,
		links:             links,
		metrics:           collector,
		httpClient:        &http.Client{Timeout: downloadTimeout},
		developerUsername: strings.TrimPrefix(developer, "@"),
		globalLimiter:     rate.NewLimiter(rate.Limit(globalRateLimit), globalRateLimit),
		dispatcher:        NewDispatcher(),
	}
}

// Start long-polls for updates until ctx is cancelled, then drains in-flight
// handlers.
func (b *Bot) Start(ctx context.Context) error {
	if b.updates == nil {
		return fmt.Errorf("bot has no update source")
	}

	logger.Info("Bot authorized and starting", map[string]interface{}{
		"username":          b.username,
		"global_rate_limit": fmt.Sprintf("%d msg/sec", globalRateLimit),
	})

	if err := b.dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.updates.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.updates.StopReceivingUpdates()
			return b.Stop()
		case update, ok := <-updates:
			if !ok {
				return b.Stop()
			}
			b.dispatch(update)
		}
	}
}

// Stop waits for running handlers to finish.
func (b *Bot) Stop() error {
	logger.InfoMsg("Stopping bot...")

	err := b.dispatcher.Stop(shutdownTimeout)

	stats := b.dispatcher.GetStats()
	stats["active_users"] = b.metrics.GetActiveUsersCount()

	if err != nil {
		stats["error"] = err.Error()
		logger.Error("Error stopping dispatcher", stats)
		return err
	}

	logger.Info("Bot stopped successfully", stats)
	return nil
}

func (b *Bot) dispatch(update tgbotapi.Update) {
	logger.Debug("Received update", map[string]interface{}{
		"update_id":    update.UpdateID,
		"has_message":  update.Message != nil,
		"has_callback": update.CallbackQuery != nil,
	})

	if err := b.dispatcher.Submit(func(ctx context.Context) {
		b.processUpdate(ctx, update)
	}); err != nil {
		logger.Error("Failed to dispatch update", map[string]interface{}{
			"error":     err.Error(),
			"update_id": update.UpdateID,
		})
	}
}

// processUpdate handles one update in isolation: errors and panics end in a
// single localized error reply.
func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = withInteractionID(ctx, uuid.NewString())
	chatID, from := updateOrigin(update)

	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerError("panic")
			logger.Error("Update handler panic recovered", logFields(ctx, map[string]interface{}{
				"panic":   fmt.Sprint(r),
				"chat_id": chatID,
			}))
			if chatID != 0 {
				b.sendResponse(chatID, locale.Text(b.fallbackLanguage(ctx, from), locale.GenericError))
			}
		}
	}()

	startTime := time.Now()
	var err error

	switch {
	case update.CallbackQuery != nil:
		b.metrics.RecordUpdate(userIDOf(from, chatID), "callback")
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil:
		err = b.handleMessage(ctx, update.Message)
	default:
		b.metrics.RecordUpdate(0, "other")
		logger.Debug("Update has no message, skipping", logFields(ctx, nil))
		return
	}

	if err != nil {
		b.metrics.RecordHandlerError("handler")
		logger.Error("Error processing update", logFields(ctx, map[string]interface{}{
			"error":   err.Error(),
			"chat_id": chatID,
		}))
		if chatID != 0 {
			b.sendResponse(chatID, locale.Text(b.fallbackLanguage(ctx, from), locale.GenericError))
		}
	}

	logger.Debug("Update processed", logFields(ctx, map[string]interface{}{
		"chat_id":  chatID,
		"duration": time.Since(startTime).String(),
	}))
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	userID := userIDOf(message.From, message.Chat.ID)

	if len(message.Photo) > 0 {
		b.metrics.RecordUpdate(userID, "photo")
		return b.handlePhotoMessage(ctx, message)
	}

	if strings.HasPrefix(message.Text, "/") {
		b.metrics.RecordUpdate(userID, "command")
		return b.handleCommand(ctx, message)
	}

	if message.Text != "" {
		b.metrics.RecordUpdate(userID, "text")
		return b.handleTextMessage(ctx, message)
	}

	b.metrics.RecordUpdate(userID, "other")
	logger.Debug("Ignoring message without text or photo", logFields(ctx, map[string]interface{}{
		"chat_id": message.Chat.ID,
	}))
	return nil
}

// fallbackLanguage picks a language for error replies without failing: the
// stored preference, else the client's language, else the default.
func (b *Bot) fallbackLanguage(ctx context.Context, from *tgbotapi.User) string {
	if from != nil {
		if lang, err := b.prefs.Get(ctx, from.ID); err == nil {
			return lang
		}
		if lang, ok := locale.Normalize(from.LanguageCode); ok {
			return lang
		}
	}
	return b.prefs.Default()
}

func (b *Bot) downloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	logger.Debug("Downloading photo from Telegram", logFields(ctx, map[string]interface{}{
		"file_id": fileID,
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}

	logger.Debug("Photo downloaded successfully", logFields(ctx, map[string]interface{}{
		"size": len(data),
	}))

	return data, nil
}

func (b *Bot) sendResponse(chatID int64, text string) {
	b.sendWithMarkup(chatID, text, nil)
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) int {
	logger.Debug("Sending response to chat", map[string]interface{}{
		"chat_id": chatID,
	})
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	response, err := b.rateLimitedSend(msg)
	if err != nil {
		logger.Error("Failed to send message", map[string]interface{}{
			"error":   err.Error(),
			"chat_id": chatID,
		})
		return 0
	}
	return response.MessageID
}

// editMessage replaces the text (and keyboard, when markup is non-nil) of
// an existing message.
func (b *Bot) editMessage(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	logger.Debug("Editing message", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup
	if _, err := b.rateLimitedSend(edit); err != nil {
		logger.Error("Failed to edit message", map[string]interface{}{
			"error":      err.Error(),
			"chat_id":    chatID,
			"message_id": messageID,
		})
		return err
	}
	return nil
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.rateLimitedRequest(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		logger.Error("Failed to delete message", map[string]interface{}{
			"error":      err.Error(),
			"chat_id":    chatID,
			"message_id": messageID,
		})
	}
}

// rateLimitedSend sends a message with rate limiting
func (b *Bot) rateLimitedSend(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.globalLimiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("global rate limiter error: %w", err)
	}
	return b.api.Send(msg)
}

// rateLimitedRequest sends a request with rate limiting
func (b *Bot) rateLimitedRequest(req tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := b.globalLimiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("global rate limiter error: %w", err)
	}
	return b.api.Request(req)
}
