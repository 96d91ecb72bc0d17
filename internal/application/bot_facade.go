package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/adapter"
	"telegram-referral-bot/internal/infra/i18n"
	"telegram-referral-bot/internal/usecase"
)

// Callback data understood by HandleCallback.
const (
	CallbackStatus      = "cmd:status"
	CallbackClaim       = "cmd:claim"
	CallbackHelp        = "cmd:help"
	CallbackMyLink      = "cmd:mylink"
	CallbackClaimPrefix = "claim:"
)

type NotifyOptions struct {
	OnReferral bool
	OnReward   bool
}

// BotFacade composes use cases into bot interactions. Every handler returns the
// messages to send; errors are turned into replies or log lines here so the
// transport never has to interpret them.
type BotFacade struct {
	Users       usecase.UserUseCase
	Channels    usecase.ChannelUseCase
	Referral    usecase.ReferralUseCase
	Attribution usecase.AttributionUseCase
	Reward      usecase.RewardUseCase
	// Chats may be nil, e.g. in tests; invite links and admin checks are then skipped.
	Chats  adapter.ChatInspector
	T      *i18n.Translator
	Notify NotifyOptions

	defaultTarget int
	log           *zerolog.Logger
}

func NewBotFacade(
	users usecase.UserUseCase,
	channels usecase.ChannelUseCase,
	referral usecase.ReferralUseCase,
	attribution usecase.AttributionUseCase,
	reward usecase.RewardUseCase,
	chats adapter.ChatInspector,
	translator *i18n.Translator,
	notify NotifyOptions,
	defaultTarget int,
	logger *zerolog.Logger,
) *BotFacade {
	l := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{
		Users:         users,
		Channels:      channels,
		Referral:      referral,
		Attribution:   attribution,
		Reward:        reward,
		Chats:         chats,
		T:             translator,
		Notify:        notify,
		defaultTarget: defaultTarget,
		log:           &l,
	}
}

func (b *BotFacade) menu() [][]adapter.InlineButton {
	return [][]adapter.InlineButton{
		{{Text: b.T.T("btn_status"), Data: CallbackStatus}, {Text: b.T.T("btn_mylink"), Data: CallbackMyLink}},
		{{Text: b.T.T("btn_claim"), Data: CallbackClaim}, {Text: b.T.T("btn_help"), Data: CallbackHelp}},
	}
}

// failure converts an error into the reply the user sees.
func (b *BotFacade) failure(chatID int64, op string, err error) []Outbound {
	switch {
	case errors.Is(err, domain.ErrUnknownReferralCode):
		return []Outbound{reply(chatID, b.T.T("invalid_code"))}
	case errors.Is(err, domain.ErrSelfReferral):
		return []Outbound{reply(chatID, b.T.T("self_referral"))}
	case errors.Is(err, domain.ErrChatNotAllowed):
		return []Outbound{reply(chatID, b.T.T("chat_not_allowed"))}
	case errors.Is(err, domain.ErrStorage):
		b.log.Error().Err(err).Str("op", op).Msg("storage failure")
		return []Outbound{reply(chatID, b.T.T("error_storage"))}
	default:
		b.log.Error().Err(err).Str("op", op).Msg("request failed")
		return []Outbound{reply(chatID, b.T.T("error_generic"))}
	}
}

func (b *BotFacade) title(ctx context.Context, channelID int64, hint string) string {
	if hint != "" {
		return model.SanitizeTitle(hint)
	}
	if s, err := b.Channels.Settings(ctx, channelID); err == nil && s.Title != "" {
		return s.Title
	}
	return b.T.T("unknown_channel")
}

func (b *BotFacade) target(ctx context.Context, channelID int64) int {
	if s, err := b.Channels.Settings(ctx, channelID); err == nil {
		return s.Target
	}
	return b.defaultTarget
}

// HandleStart handles /start, with or without a referral code payload.
func (b *BotFacade) HandleStart(ctx context.Context, req Requester, code string) []Outbound {
	if !req.Private {
		return []Outbound{reply(req.ChatID, b.T.T("start_group"))}
	}
	if _, err := b.Users.RegisterOrFetch(ctx, req.UserID, req.Username, req.FirstName); err != nil {
		return b.failure(req.ChatID, "start.register", err)
	}

	code = strings.TrimSpace(code)
	if code != "" {
		return b.startWithCode(ctx, req, code)
	}

	out := b.pendingWelcomes(ctx, req)
	name := req.FirstName
	if name == "" {
		name = req.Username
	}
	return append(out, reply(req.ChatID, b.T.T("welcome", name), b.menu()...))
}

func (b *BotFacade) startWithCode(ctx context.Context, req Requester, code string) []Outbound {
	res, err := b.Attribution.OnStart(ctx, req.UserID, code)
	if err != nil {
		return b.failure(req.ChatID, "start.code", err)
	}
	channelID := res.Referral.ChannelID
	title := b.title(ctx, channelID, "")

	switch res.Outcome {
	case usecase.OutcomeDuplicate:
		return []Outbound{reply(req.ChatID, b.T.T("already_attributed", title))}
	case usecase.OutcomeAlreadyMember:
		return []Outbound{reply(req.ChatID, b.T.T("already_member"))}
	case usecase.OutcomeCredited:
		out := []Outbound{reply(req.ChatID, b.T.T("attributed_now", title))}
		return append(out, b.referrerNotice(ctx, res.Attribution, MemberUpdate{
			UserID: req.UserID, ChannelID: channelID, Username: req.Username, FirstName: req.FirstName,
		}, title)...)
	}

	if b.Chats != nil {
		link, err := b.Chats.InviteLink(ctx, channelID)
		if err == nil && link != "" {
			btn := []adapter.InlineButton{{Text: b.T.T("btn_join_channel", title), URL: link}}
			return []Outbound{reply(req.ChatID, b.T.T("invite", title, link), btn)}
		}
		b.log.Warn().Err(err).Int64("channel_id", channelID).Msg("invite link unavailable")
	}
	return []Outbound{reply(req.ChatID, b.T.T("invite_no_link", title))}
}

// pendingWelcomes delivers the join welcomes that could not be sent earlier.
func (b *BotFacade) pendingWelcomes(ctx context.Context, req Requester) []Outbound {
	channels, err := b.Users.TakePendingWelcomes(ctx, req.UserID)
	if err != nil {
		b.log.Error().Err(err).Int64("user_id", req.UserID).Msg("load pending welcomes")
		return nil
	}
	var out []Outbound
	for _, ch := range channels {
		code, err := b.Referral.IssueCode(ctx, req.UserID, ch)
		if err != nil {
			b.log.Error().Err(err).Int64("channel_id", ch).Msg("issue code for pending welcome")
			continue
		}
		out = append(out, reply(req.ChatID, b.welcomeText(ctx, ch, "", code)))
	}
	return out
}

func (b *BotFacade) welcomeText(ctx context.Context, channelID int64, title, code string) string {
	return b.T.T("join_welcome", b.title(ctx, channelID, title), b.Referral.ReferralLink(code), b.target(ctx, channelID))
}

// HandleChatMember processes a join or leave in a channel the bot administers.
func (b *BotFacade) HandleChatMember(ctx context.Context, ev MemberUpdate) []Outbound {
	if ev.IsBot {
		return nil
	}
	if err := b.Channels.Observe(ctx, ev.ChannelID, ev.Title); err != nil {
		b.log.Warn().Err(err).Int64("channel_id", ev.ChannelID).Msg("channel title update failed")
	}

	status := model.MemberLeft
	if ev.Joined {
		status = model.MemberJoined
	}
	res, err := b.Attribution.OnChatMemberUpdate(ctx, usecase.MemberEvent{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		Username:  ev.Username,
		FirstName: ev.FirstName,
		Status:    status,
	})
	if err != nil {
		if errors.Is(err, domain.ErrChatNotAllowed) {
			b.log.Debug().Int64("channel_id", ev.ChannelID).Msg("ignoring chat outside whitelist")
		} else {
			b.log.Error().Err(err).Int64("user_id", ev.UserID).Int64("channel_id", ev.ChannelID).Msg("member update failed")
		}
		return nil
	}
	if !ev.Joined {
		return nil
	}

	title := b.title(ctx, ev.ChannelID, ev.Title)
	var out []Outbound
	if !res.WasMember && res.OwnCode != "" {
		out = append(out, Outbound{
			ChatID:    ev.UserID,
			Text:      b.welcomeText(ctx, ev.ChannelID, ev.Title, res.OwnCode),
			Kind:      KindWelcome,
			ChannelID: ev.ChannelID,
		})
	}
	if res.Outcome == usecase.OutcomeCredited {
		out = append(out, b.referrerNotice(ctx, res.Attribution, ev, title)...)
	}
	return out
}

func (b *BotFacade) referrerNotice(ctx context.Context, att *usecase.Attribution, who MemberUpdate, title string) []Outbound {
	if att == nil || !b.Notify.OnReferral {
		return nil
	}
	text := b.T.T("referral_notify", who.DisplayName(), title, att.Count, att.Target)
	var rows [][]adapter.InlineButton
	if att.TargetReached && b.Notify.OnReward {
		text += b.T.T("referral_milestone", att.Target)
		rows = append(rows, []adapter.InlineButton{{
			Text: b.T.T("btn_claim_channel", title),
			Data: CallbackClaimPrefix + strconv.FormatInt(att.ChannelID, 10),
		}})
	}
	return []Outbound{{ChatID: att.ReferrerID, Text: text, Buttons: rows, Kind: KindNotify}}
}

// WelcomeUndelivered records that the welcome DM for channelID failed.
func (b *BotFacade) WelcomeUndelivered(ctx context.Context, userID, channelID int64) {
	if err := b.Users.MarkPendingWelcome(ctx, userID, channelID); err != nil {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("mark pending welcome")
	}
}

func (b *BotFacade) HandleHelp(ctx context.Context, req Requester) []Outbound {
	return []Outbound{reply(req.ChatID, b.T.T("help", b.defaultTarget))}
}

func (b *BotFacade) HandleStatus(ctx context.Context, req Requester) []Outbound {
	progress, err := b.Reward.Progress(ctx, req.UserID)
	if err != nil {
		return b.failure(req.ChatID, "status", err)
	}
	if len(progress) == 0 {
		return []Outbound{reply(req.ChatID, b.T.T("status_empty"))}
	}

	var sb strings.Builder
	sb.WriteString(b.T.T("status_header"))
	for _, p := range progress {
		title := p.Title
		if title == "" {
			title = b.T.T("unknown_channel")
		}
		sb.WriteString(b.T.T("status_channel", title, p.Count, p.Target, ProgressBar(p.Count, p.Target, 10)))
		switch {
		case p.Claimed:
			sb.WriteString(b.T.T("status_claimed"))
		case p.Eligible:
			sb.WriteString(b.T.T("status_ready"))
		default:
			sb.WriteString(b.T.T("status_need_more", p.Remaining))
		}
		sb.WriteString("\n")
	}
	rows := [][]adapter.InlineButton{
		{{Text: b.T.T("btn_claim"), Data: CallbackClaim}},
		{{Text: b.T.T("btn_refresh"), Data: CallbackStatus}},
	}
	return []Outbound{reply(req.ChatID, strings.TrimRight(sb.String(), "\n"), rows...)}
}

func (b *BotFacade) HandleMyLink(ctx context.Context, req Requester) []Outbound {
	progress, err := b.Reward.Progress(ctx, req.UserID)
	if err != nil {
		return b.failure(req.ChatID, "mylink", err)
	}
	var sb strings.Builder
	for _, p := range progress {
		if p.Code == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString(b.T.T("mylink_header"))
		}
		title := p.Title
		if title == "" {
			title = b.T.T("unknown_channel")
		}
		sb.WriteString(b.T.T("mylink_line", title, b.Referral.ReferralLink(p.Code)))
	}
	if sb.Len() == 0 {
		return []Outbound{reply(req.ChatID, b.T.T("mylink_missing"))}
	}
	return []Outbound{reply(req.ChatID, strings.TrimRight(sb.String(), "\n"))}
}

// HandleClaim claims the reward of channelID, or lists the claimable channels when channelID is 0.
func (b *BotFacade) HandleClaim(ctx context.Context, req Requester, channelID int64) []Outbound {
	if channelID != 0 {
		return b.claimOne(ctx, req, channelID)
	}
	progress, err := b.Reward.Progress(ctx, req.UserID)
	if err != nil {
		return b.failure(req.ChatID, "claim.list", err)
	}
	var eligible []usecase.ChannelProgress
	for _, p := range progress {
		if p.Eligible {
			eligible = append(eligible, p)
		}
	}
	switch len(eligible) {
	case 0:
		return []Outbound{reply(req.ChatID, b.T.T("claim_none"))}
	case 1:
		return b.claimOne(ctx, req, eligible[0].ChannelID)
	}

	var sb strings.Builder
	sb.WriteString(b.T.T("claim_choose"))
	var rows [][]adapter.InlineButton
	for _, p := range eligible {
		title := p.Title
		if title == "" {
			title = b.T.T("unknown_channel")
		}
		sb.WriteString(b.T.T("claim_choose_line", title, p.Reward))
		rows = append(rows, []adapter.InlineButton{{
			Text: b.T.T("btn_claim_channel", title),
			Data: CallbackClaimPrefix + strconv.FormatInt(p.ChannelID, 10),
		}})
	}
	return []Outbound{reply(req.ChatID, strings.TrimRight(sb.String(), "\n"), rows...)}
}

func (b *BotFacade) claimOne(ctx context.Context, req Requester, channelID int64) []Outbound {
	res, err := b.Reward.Claim(ctx, req.UserID, channelID)
	title := b.title(ctx, channelID, "")
	switch {
	case err == nil:
		return []Outbound{reply(req.ChatID, b.T.T("claim_success", title, res.Reward, res.Count))}
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return []Outbound{reply(req.ChatID, b.T.T("claim_already", title))}
	case errors.Is(err, domain.ErrNotEligible):
		count, target := 0, b.target(ctx, channelID)
		if u, uerr := b.Users.GetByTelegramID(ctx, req.UserID); uerr == nil {
			count = u.CreditCount(channelID)
		}
		rem := target - count
		if rem < 0 {
			rem = 0
		}
		return []Outbound{reply(req.ChatID, b.T.T("claim_locked", count, title, target, rem))}
	default:
		return b.failure(req.ChatID, "claim", err)
	}
}

// HandleAdmin registers the current chat for referrals when the caller administers it.
func (b *BotFacade) HandleAdmin(ctx context.Context, req Requester) []Outbound {
	if req.Private {
		return []Outbound{reply(req.ChatID, b.T.T("admin_private"))}
	}
	if b.Chats != nil {
		ok, err := b.Chats.IsChatAdmin(ctx, req.ChatID, req.UserID)
		if err != nil {
			return b.failure(req.ChatID, "admin.check", err)
		}
		if !ok {
			return []Outbound{reply(req.ChatID, b.T.T("admin_denied"))}
		}
	}
	ch, err := b.Channels.Register(ctx, req.ChatID, req.ChatTitle, req.UserID)
	if err != nil {
		return b.failure(req.ChatID, "admin.register", err)
	}
	return []Outbound{reply(req.ChatID, b.T.T("admin_registered", ch.Title, ch.ReferralTarget, ch.RewardDescriptor))}
}

// HandleCallback dispatches inline-button presses.
func (b *BotFacade) HandleCallback(ctx context.Context, req Requester, data string) []Outbound {
	switch {
	case data == CallbackStatus:
		return b.HandleStatus(ctx, req)
	case data == CallbackClaim:
		return b.HandleClaim(ctx, req, 0)
	case data == CallbackHelp:
		return b.HandleHelp(ctx, req)
	case data == CallbackMyLink:
		return b.HandleMyLink(ctx, req)
	case strings.HasPrefix(data, CallbackClaimPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, CallbackClaimPrefix), 10, 64)
		if err != nil || id == 0 {
			return b.failure(req.ChatID, "callback.claim", fmt.Errorf("bad claim payload %q: %w", data, domain.ErrInvalidArgument))
		}
		return b.HandleClaim(ctx, req, id)
	default:
		b.log.Warn().Str("data", data).Msg("unknown callback")
		return nil
	}
}

// ProgressBar renders count/target as a bar of width cells.
func ProgressBar(count, target, width int) string {
	if width <= 0 {
		return ""
	}
	filled := width
	if target > 0 {
		filled = count * width / target
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}
