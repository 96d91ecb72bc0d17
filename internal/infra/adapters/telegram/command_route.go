package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-referral-bot/internal/application"
	"telegram-referral-bot/internal/infra/metrics"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

// commandRoutes defines all available bot commands and their handlers.
func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":  r.handleStartCommand,
		"help":   r.handleHelpCommand,
		"status": r.handleStatusCommand,
		"mylink": r.handleMyLinkCommand,
		"claim":  r.handleClaimCommand,

		// Chat-admin rights are checked by the facade; adminOnly narrows
		// registration to bot.admin_ids when that list is configured.
		"admin": r.adminOnly(r.handleAdminCommand),
	}
}

func (r *RealTelegramBotAdapter) adminOnly(next commandHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		if len(r.adminIDsMap) > 0 {
			if _, isAdmin := r.adminIDsMap[message.From.ID]; !isAdmin {
				metrics.IncAdminCommand("/"+message.Command(), "unauthorized")
				return r.deliver(ctx, []application.Outbound{{ChatID: message.Chat.ID, Text: r.translator.T("admin_denied")}})
			}
		}
		metrics.IncAdminCommand("/"+message.Command(), "authorized")
		return next(ctx, message)
	}
}

func requester(message *tgbotapi.Message) application.Requester {
	return application.Requester{
		UserID:    message.From.ID,
		ChatID:    message.Chat.ID,
		ChatTitle: message.Chat.Title,
		Private:   message.Chat.IsPrivate(),
		Username:  message.From.UserName,
		FirstName: message.From.FirstName,
	}
}

// handleStartCommand handles /start and the deep-link payload /start <code>.
func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	code := strings.TrimSpace(message.CommandArguments())
	return r.deliver(ctx, r.facade.HandleStart(ctx, requester(message), code))
}

func (r *RealTelegramBotAdapter) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.deliver(ctx, r.facade.HandleHelp(ctx, requester(message)))
}

func (r *RealTelegramBotAdapter) handleStatusCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.deliver(ctx, r.facade.HandleStatus(ctx, requester(message)))
}

func (r *RealTelegramBotAdapter) handleMyLinkCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.deliver(ctx, r.facade.HandleMyLink(ctx, requester(message)))
}

// handleClaimCommand handles /claim and /claim <channel_id>.
func (r *RealTelegramBotAdapter) handleClaimCommand(ctx context.Context, message *tgbotapi.Message) error {
	var channelID int64
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return r.deliver(ctx, []application.Outbound{{ChatID: message.Chat.ID, Text: r.translator.T("claim_usage")}})
		}
		channelID = id
	}
	return r.deliver(ctx, r.facade.HandleClaim(ctx, requester(message), channelID))
}

func (r *RealTelegramBotAdapter) handleAdminCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.deliver(ctx, r.facade.HandleAdmin(ctx, requester(message)))
}
