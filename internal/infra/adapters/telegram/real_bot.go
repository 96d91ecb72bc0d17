package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/application"
	"telegram-referral-bot/internal/config"
	"telegram-referral-bot/internal/domain/ports/adapter"
	"telegram-referral-bot/internal/infra/i18n"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
	red "telegram-referral-bot/internal/infra/redis"
	"telegram-referral-bot/internal/infra/worker"
)

// AllowedUpdates are the update kinds the bot subscribes to. chat_member is
// not delivered by Telegram unless requested explicitly.
var AllowedUpdates = []string{"message", "callback_query", "chat_member"}

// BotAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetInviteLink(cfg tgbotapi.ChatInviteLinkConfig) (string, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// RateLimiter is satisfied by the redis and in-process limiters.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

// RealTelegramBotAdapter receives updates (polling or webhook), hands them to
// the worker pool and delivers whatever BotFacade returns.
type RealTelegramBotAdapter struct {
	bot         BotAPI
	cfg         *config.BotConfig
	facade      *application.BotFacade
	rateLimiter RateLimiter
	pool        *worker.Pool
	translator  *i18n.Translator
	log         *zerolog.Logger

	adminIDsMap map[int64]struct{}
}

func NewRealTelegramBotAdapter(
	bot BotAPI,
	cfg *config.BotConfig,
	facade *application.BotFacade,
	rateLimiter RateLimiter,
	pool *worker.Pool,
	translator *i18n.Translator,
	logger *zerolog.Logger,
) (*RealTelegramBotAdapter, error) {
	if bot == nil {
		return nil, errors.New("bot api is nil")
	}
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if facade == nil {
		return nil, errors.New("bot facade is nil")
	}
	if pool == nil {
		return nil, errors.New("worker pool is nil")
	}

	adminMap := map[int64]struct{}{}
	for _, id := range cfg.AdminIDs {
		adminMap[id] = struct{}{}
	}
	l := logger.With().Str("component", "TelegramAdapter").Logger()

	return &RealTelegramBotAdapter{
		bot:         bot,
		cfg:         cfg,
		facade:      facade,
		rateLimiter: rateLimiter,
		pool:        pool,
		translator:  translator,
		log:         &l,
		adminIDsMap: adminMap,
	}, nil
}

// StartPolling long-polls getUpdates until ctx is cancelled. Updates are
// queued on the worker pool; a full queue blocks polling.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	if _, err := r.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		r.log.Warn().Err(err).Msg("delete webhook failed")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = r.cfg.PollTimeout
	u.AllowedUpdates = AllowedUpdates
	updates := r.bot.GetUpdatesChan(u)
	defer r.bot.StopReceivingUpdates()

	r.log.Info().Int("timeout", u.Timeout).Msg("polling started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("polling stopped")
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.Enqueue(ctx, up); err != nil {
				return err
			}
		}
	}
}

// Enqueue schedules update handling on the worker pool.
func (r *RealTelegramBotAdapter) Enqueue(ctx context.Context, up tgbotapi.Update) error {
	return r.pool.SubmitWait(ctx, func(ctx context.Context) error {
		return r.HandleUpdate(ctx, up)
	})
}

// SetWebhook registers url with Telegram for webhook delivery.
func (r *RealTelegramBotAdapter) SetWebhook(ctx context.Context, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	wh.AllowedUpdates = AllowedUpdates
	if _, err := r.bot.Request(wh); err != nil {
		return err
	}
	r.log.Info().Str("url", logging.Redact(url, false)).Msg("webhook registered")
	return nil
}

// RegisterCommands publishes the command menu shown by Telegram clients.
func (r *RealTelegramBotAdapter) RegisterCommands(ctx context.Context) error {
	cmds := []tgbotapi.BotCommand{
		{Command: "start", Description: r.translator.T("cmd_start")},
		{Command: "status", Description: r.translator.T("cmd_status")},
		{Command: "mylink", Description: r.translator.T("cmd_mylink")},
		{Command: "claim", Description: r.translator.T("cmd_claim")},
		{Command: "help", Description: r.translator.T("cmd_help")},
	}
	_, err := r.bot.Request(tgbotapi.NewSetMyCommands(cmds...))
	return err
}

// HandleUpdate routes one update. It is safe to call concurrently.
func (r *RealTelegramBotAdapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	ctx = logging.WithTraceID(ctx, uuid.NewString())

	switch {
	case update.CallbackQuery != nil:
		metrics.IncTelegramUpdate("callback")
		return r.handleQuery(ctx, update.CallbackQuery)
	case update.ChatMember != nil:
		metrics.IncTelegramUpdate("chat_member")
		return r.handleChatMember(ctx, update.ChatMember)
	case update.Message != nil:
		metrics.IncTelegramUpdate("message")
		return r.handleMessage(ctx, update.Message)
	default:
		metrics.IncTelegramUpdate("other")
		return nil
	}
}

func (r *RealTelegramBotAdapter) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil || message.Chat == nil || !message.IsCommand() {
		return nil
	}
	ctx = logging.WithTgID(ctx, message.From.ID)
	ctx = logging.WithChatID(ctx, message.Chat.ID)

	command := strings.ToLower(message.Command())
	handler, ok := r.commandRoutes()[command]
	if !ok {
		if message.Chat.IsPrivate() {
			return r.deliver(ctx, []application.Outbound{{ChatID: message.Chat.ID, Text: r.translator.T("unknown_command")}})
		}
		return nil
	}
	metrics.IncTelegramCommand("/" + command)

	if !r.allow(ctx, red.UserCommandKey(message.From.ID, command)) {
		return r.deliver(ctx, []application.Outbound{{ChatID: message.Chat.ID, Text: r.translator.T("rate_limited")}})
	}
	return handler(ctx, message)
}

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query == nil || query.From == nil {
		return errors.New("invalid callback query")
	}

	// Stop telegram spinner when we return
	defer func() { _, _ = r.bot.Request(tgbotapi.NewCallback(query.ID, "")) }()

	req := application.Requester{
		UserID:    query.From.ID,
		ChatID:    query.From.ID,
		Private:   true,
		Username:  query.From.UserName,
		FirstName: query.From.FirstName,
	}
	if query.Message != nil && query.Message.Chat != nil {
		req.ChatID = query.Message.Chat.ID
		req.ChatTitle = query.Message.Chat.Title
		req.Private = query.Message.Chat.IsPrivate()
	}
	ctx = logging.WithTgID(ctx, req.UserID)

	data := strings.TrimSpace(query.Data)
	if !r.allow(ctx, red.UserCommandKey(req.UserID, "cb")) {
		return r.deliver(ctx, []application.Outbound{{ChatID: req.ChatID, Text: r.translator.T("rate_limited")}})
	}
	return r.routeCallback(ctx, req, data)
}

func (r *RealTelegramBotAdapter) handleChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) error {
	ev, ok := memberUpdate(upd)
	if !ok {
		return nil
	}
	ctx = logging.WithTgID(ctx, ev.UserID)
	ctx = logging.WithChatID(ctx, ev.ChannelID)
	return r.deliver(ctx, r.facade.HandleChatMember(ctx, ev))
}

// memberUpdate classifies a chat_member transition. Only not-member to
// member (join) and member to not-member (leave) transitions are reported.
func memberUpdate(upd *tgbotapi.ChatMemberUpdated) (application.MemberUpdate, bool) {
	if upd == nil || upd.NewChatMember.User == nil {
		return application.MemberUpdate{}, false
	}
	was := isMemberStatus(upd.OldChatMember)
	is := isMemberStatus(upd.NewChatMember)
	if was == is {
		return application.MemberUpdate{}, false
	}
	u := upd.NewChatMember.User
	return application.MemberUpdate{
		UserID:    u.ID,
		ChannelID: upd.Chat.ID,
		Title:     upd.Chat.Title,
		Username:  u.UserName,
		FirstName: u.FirstName,
		Joined:    is,
		IsBot:     u.IsBot,
	}, true
}

func isMemberStatus(m tgbotapi.ChatMember) bool {
	switch m.Status {
	case "member", "administrator", "creator":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}

func (r *RealTelegramBotAdapter) allow(ctx context.Context, key string) bool {
	if r.rateLimiter == nil {
		return true
	}
	allowed, err := r.rateLimiter.Allow(ctx, key)
	if err != nil {
		// fail open: a limiter outage must not silence the bot
		r.log.Warn().Err(err).Msg("rate limit check failed")
		return true
	}
	if !allowed {
		metrics.IncRateLimitTriggered()
	}
	return allowed
}

// deliver sends every outbound message. A failed welcome is handed back to
// the facade so it can be delivered on the user's next /start.
func (r *RealTelegramBotAdapter) deliver(ctx context.Context, outs []application.Outbound) error {
	var firstErr error
	for _, out := range outs {
		err := r.send(ctx, out)
		if err == nil {
			continue
		}
		metrics.IncSendError()
		logging.With(ctx, r.log).Warn().Err(err).
			Int64("to", out.ChatID).Str("kind", string(out.Kind)).Msg("send failed")
		if out.Kind == application.KindWelcome {
			r.facade.WelcomeUndelivered(ctx, out.ChatID, out.ChannelID)
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *RealTelegramBotAdapter) send(ctx context.Context, out application.Outbound) error {
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}
	if len(out.Buttons) > 0 {
		return r.SendButtons(ctx, out.ChatID, out.Text, out.Buttons)
	}
	return r.SendMessage(ctx, out.ChatID, out.Text)
}

// SendMessage implements the adapter port.
func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, tgID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(tgID, text)
	msg.DisableWebPagePreview = true
	_, err := r.bot.Send(msg)
	return err
}

// SendButtons sends a message with inline buttons using tgbotapi.
// - If btn.URL is set, the button opens a link
// - Else if btn.Data is set, the button sends callback data
// - Else a safe fallback uses btn.Text as callback data
func (r *RealTelegramBotAdapter) SendButtons(ctx context.Context, telegramID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kb := inlineKeyboard(rows)
	msg := tgbotapi.NewMessage(telegramID, text)
	msg.DisableWebPagePreview = true
	if len(kb.InlineKeyboard) > 0 {
		msg.ReplyMarkup = kb
	}
	_, err := r.bot.Send(msg)
	return err
}

func inlineKeyboard(rows [][]adapter.InlineButton) tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		out := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				out = append(out, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				out = append(out, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				out = append(out, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, out)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kbRows...)
}
