package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
)

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch parseCommand(message.Text) {
	case "start":
		return b.handleStartCommand(ctx, message)
	case "help":
		return b.handleHelpCommand(ctx, message)
	default:
		lang := b.fallbackLanguage(ctx, message.From)
		b.sendResponse(message.Chat.ID, locale.Text(lang, locale.UnknownCommand))
		return nil
	}
}

// handleStartCommand greets the user and offers the language keyboard. It
// reads the stored preference but never writes it.
func (b *Bot) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	userID := userIDOf(message.From, message.Chat.ID)
	lang, err := b.prefs.Get(ctx, userID)
	if err != nil {
		b.metrics.RecordHandlerError("storage")
		logger.Warn("Failed to read language for /start", logFields(ctx, map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		}))
		lang = b.fallbackLanguage(ctx, message.From)
	}

	keyboard := languageKeyboard()
	b.sendWithMarkup(message.Chat.ID, locale.Text(lang, locale.Welcome), &keyboard)
	return nil
}

func (b *Bot) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	lang := b.fallbackLanguage(ctx, message.From)
	b.sendResponse(message.Chat.ID, locale.Text(lang, locale.Help))
	return nil
}
