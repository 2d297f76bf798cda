package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
)

const (
	sourcePhoto = "photo"
	sourceText  = "text"

	resultIdentified = "identified"
)

func languageKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(locale.Supported))
	for _, code := range locale.Supported {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(locale.Label(code), languageCallbackPrefix+code))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// productKeyboard always carries the buy button; the developer contact is
// appended only when requested and configured.
func (b *Bot) productKeyboard(lang, link string, withDeveloper bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(locale.Text(lang, locale.BuyButton), link)),
	}
	if withDeveloper && b.developerUsername != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(locale.Text(lang, locale.DeveloperButton), "https://t.me/"+b.developerUsername),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) productCard(lang, productName string) string {
	store := strings.ToUpper(b.links.Domain(lang))
	return locale.Textf(lang, locale.ProductFound, tgbotapi.EscapeText(tgbotapi.ModeHTML, productName), store)
}

// handleTextMessage treats the text as a product name. No model call is made.
func (b *Bot) handleTextMessage(ctx context.Context, message *tgbotapi.Message) error {
	name := strings.TrimSpace(message.Text)
	if name == "" {
		return nil
	}

	chatID := message.Chat.ID
	userID := userIDOf(message.From, chatID)

	lang, err := b.prefs.Resolve(ctx, userID)
	if err != nil {
		b.reportStorageError(ctx, message, err)
		return nil
	}

	link, err := b.links.Build(name, lang)
	if err != nil {
		return err
	}

	keyboard := b.productKeyboard(lang, link, false)
	b.sendWithMarkup(chatID, b.productCard(lang, name), &keyboard)
	b.metrics.RecordLink(b.links.Domain(lang), sourceText)

	logger.Info("Link sent for text query", logFields(ctx, map[string]interface{}{
		"user_id":  userID,
		"language": lang,
		"product":  name,
	}))
	return nil
}

// handlePhotoMessage posts a placeholder, identifies the product and then
// rewrites the placeholder into the final reply, so the user ends up with
// exactly one message.
func (b *Bot) handlePhotoMessage(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := userIDOf(message.From, chatID)

	logger.Debug("Processing photo message from user", logFields(ctx, map[string]interface{}{
		"chat_id":     chatID,
		"photo_count": len(message.Photo),
	}))

	lang, err := b.prefs.Resolve(ctx, userID)
	if err != nil {
		b.reportStorageError(ctx, message, err)
		return nil
	}

	photo, ok := largestPhoto(message.Photo)
	if !ok {
		b.sendResponse(chatID, locale.Text(lang, locale.EmptyPhoto))
		return nil
	}

	placeholderID := b.sendWithMarkup(chatID, locale.Text(lang, locale.Analyzing), nil)

	// A panic past this point must still resolve the placeholder.
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerError("panic")
			logger.Error("Photo handler panic recovered", logFields(ctx, map[string]interface{}{
				"panic":   fmt.Sprint(r),
				"chat_id": chatID,
			}))
			b.finishReply(chatID, placeholderID, locale.Text(lang, locale.GenericError), nil)
		}
	}()

	data, err := b.downloadPhoto(ctx, photo.FileID)
	if err != nil {
		b.metrics.RecordHandlerError("download")
		logger.Error("Failed to download photo", logFields(ctx, map[string]interface{}{
			"error":   err.Error(),
			"file_id": photo.FileID,
		}))
		b.finishReply(chatID, placeholderID, locale.Text(lang, locale.GenericError), nil)
		return nil
	}

	startTime := time.Now()
	result := b.identifier.IdentifyProduct(ctx, data, lang)
	provider := b.identifier.Provider()

	outcome := resultIdentified
	if !result.Identified() {
		outcome = string(result.Reason)
	}
	b.metrics.RecordIdentification(provider, outcome, time.Since(startTime))
	if result.Usage != nil {
		b.metrics.RecordTokens(provider, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}

	if !result.Identified() {
		logger.Info("Product not identified", logFields(ctx, map[string]interface{}{
			"user_id": userID,
			"reason":  string(result.Reason),
		}))
		b.finishReply(chatID, placeholderID, locale.Text(lang, locale.NotIdentified), nil)
		return nil
	}

	link, err := b.links.Build(result.ProductName, lang)
	if err != nil {
		b.metrics.RecordHandlerError("link")
		logger.Error("Failed to build link", logFields(ctx, map[string]interface{}{
			"error":   err.Error(),
			"product": result.ProductName,
		}))
		b.finishReply(chatID, placeholderID, locale.Text(lang, locale.GenericError), nil)
		return nil
	}

	keyboard := b.productKeyboard(lang, link, true)
	b.finishReply(chatID, placeholderID, b.productCard(lang, result.ProductName), &keyboard)
	b.metrics.RecordLink(b.links.Domain(lang), sourcePhoto)

	logger.Info("Link sent for photo", logFields(ctx, map[string]interface{}{
		"user_id":  userID,
		"language": lang,
		"product":  result.ProductName,
		"provider": provider,
	}))
	return nil
}

// finishReply turns the placeholder into the final message. Without a
// placeholder, or when editing fails, the reply is sent fresh and the
// placeholder removed.
func (b *Bot) finishReply(chatID int64, placeholderID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if placeholderID != 0 {
		if err := b.editMessage(chatID, placeholderID, text, markup); err == nil {
			return
		}
	}

	if b.sendWithMarkup(chatID, text, markup) != 0 && placeholderID != 0 {
		b.deleteMessage(chatID, placeholderID)
	}
}

func (b *Bot) reportStorageError(ctx context.Context, message *tgbotapi.Message, err error) {
	b.metrics.RecordHandlerError("storage")
	logger.Error("Failed to resolve language preference", logFields(ctx, map[string]interface{}{
		"chat_id": message.Chat.ID,
		"error":   err.Error(),
	}))

	lang := b.prefs.Default()
	if message.From != nil {
		if code, ok := locale.Normalize(message.From.LanguageCode); ok {
			lang = code
		}
	}
	b.sendResponse(message.Chat.ID, locale.Text(lang, locale.StorageError))
}
