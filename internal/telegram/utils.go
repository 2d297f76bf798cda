package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type interactionKey struct{}

func withInteractionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, interactionKey{}, id)
}

func interactionID(ctx context.Context) string {
	id, _ := ctx.Value(interactionKey{}).(string)
	return id
}

// logFields tags fields with the interaction id carried by ctx.
func logFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id := interactionID(ctx)
	if id == "" {
		return fields
	}
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["interaction_id"] = id
	return fields
}

func updateOrigin(update tgbotapi.Update) (int64, *tgbotapi.User) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message != nil && cb.Message.Chat != nil {
			return cb.Message.Chat.ID, cb.From
		}
		if cb.From != nil {
			return cb.From.ID, cb.From
		}
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, update.Message.From
	}
	return 0, nil
}

// userIDOf keys preferences by the sender, falling back to the chat for
// anonymous posts.
func userIDOf(from *tgbotapi.User, chatID int64) int64 {
	if from != nil {
		return from.ID
	}
	return chatID
}

// largestPhoto returns the size with the most pixels.
func largestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > best.Width*best.Height ||
			(size.Width*size.Height == best.Width*best.Height && size.FileSize > best.FileSize) {
			best = size
		}
	}
	return best, best.FileID != ""
}

// parseCommand turns "/start@snapbuy_bot payload" into "start".
func parseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	command := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	return strings.ToLower(command)
}
