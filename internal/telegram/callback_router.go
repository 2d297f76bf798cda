package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/snapbuy/snapbuy/internal/database"
	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
)

const (
	languageCallbackPrefix = "lang:"
	// Keyboards sent by earlier releases still carry this prefix.
	legacyLanguageCallbackPrefix = "setlang_"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	logger.Debug("Handling callback query", logFields(ctx, map[string]interface{}{
		"callback_data": callback.Data,
		"callback_id":   callback.ID,
	}))

	// Answer the callback query first
	callbackConfig := tgbotapi.NewCallback(callback.ID, "")
	if _, err := b.rateLimitedRequest(callbackConfig); err != nil {
		logger.Error("Failed to answer callback query", logFields(ctx, map[string]interface{}{
			"error": err.Error(),
		}))
	}

	if code, ok := parseLanguagePayload(callback.Data); ok {
		return b.handleLanguageSelection(ctx, callback, code)
	}

	logger.Warn("Unknown callback data", logFields(ctx, map[string]interface{}{
		"callback_data": callback.Data,
	}))
	return nil
}

func parseLanguagePayload(data string) (string, bool) {
	switch {
	case strings.HasPrefix(data, languageCallbackPrefix):
		return strings.TrimPrefix(data, languageCallbackPrefix), true
	case strings.HasPrefix(data, legacyLanguageCallbackPrefix):
		return strings.TrimPrefix(data, legacyLanguageCallbackPrefix), true
	default:
		return "", false
	}
}

// handleLanguageSelection stores the choice and replaces the keyboard
// message with the outcome. Confirmation is shown only after the write
// succeeded.
func (b *Bot) handleLanguageSelection(ctx context.Context, callback *tgbotapi.CallbackQuery, code string) error {
	chatID, from := updateOrigin(tgbotapi.Update{CallbackQuery: callback})
	userID := userIDOf(from, chatID)

	var text string
	err := b.prefs.Set(ctx, userID, code)
	switch {
	case err == nil:
		lang, _ := locale.Normalize(code)
		b.metrics.RecordLanguageSelection(lang)
		logger.Info("Language preference saved", logFields(ctx, map[string]interface{}{
			"user_id":  userID,
			"language": lang,
		}))
		text = locale.Text(lang, locale.LanguageSaved)
	case errors.Is(err, database.ErrUnsupportedLanguage):
		logger.Warn("Unsupported language selected", logFields(ctx, map[string]interface{}{
			"user_id":  userID,
			"language": code,
		}))
		text = locale.Text(b.fallbackLanguage(ctx, from), locale.UnsupportedLanguage)
	default:
		b.metrics.RecordHandlerError("storage")
		logger.Error("Failed to save language preference", logFields(ctx, map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		}))
		lang, ok := locale.Normalize(code)
		if !ok {
			lang = b.prefs.Default()
		}
		text = locale.Text(lang, locale.StorageError)
	}

	if callback.Message != nil {
		if err := b.editMessage(chatID, callback.Message.MessageID, text, nil); err == nil {
			return nil
		}
	}
	b.sendResponse(chatID, text)
	return nil
}
