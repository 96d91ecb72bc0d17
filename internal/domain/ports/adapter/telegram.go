// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
	SendButtons(ctx context.Context, telegramID int64, text string, rows [][]InlineButton) error
}

// ChatInspector answers membership questions the core cannot derive from events.
type ChatInspector interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	InviteLink(ctx context.Context, chatID int64) (string, error)
}
