package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-referral-bot/internal/domain/ports/adapter"
)

var _ adapter.ChatInspector = (*ChatInspector)(nil)

// ChatInspector answers admin and invite-link questions through the Bot API.
// Invite links are cached per chat: exporting a new primary link revokes
// the previous one, so it is done at most once per process.
type ChatInspector struct {
	bot BotAPI

	mu    sync.RWMutex
	links map[int64]string
}

func NewChatInspector(bot BotAPI) *ChatInspector {
	return &ChatInspector{bot: bot, links: map[int64]string{}}
}

func (c *ChatInspector) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return false, err
	}
	return m.IsAdministrator() || m.IsCreator(), nil
}

func (c *ChatInspector) InviteLink(ctx context.Context, chatID int64) (string, error) {
	c.mu.RLock()
	link, ok := c.links[chatID]
	c.mu.RUnlock()
	if ok {
		return link, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", err
	}
	link = chat.InviteLink
	if link == "" && chat.UserName != "" {
		link = "https://t.me/" + chat.UserName
	}
	if link == "" {
		link, err = c.bot.GetInviteLink(tgbotapi.ChatInviteLinkConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.links[chatID] = link
	c.mu.Unlock()
	return link, nil
}
