package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
)

var _ RewardUseCase = (*rewardUC)(nil)

// ChannelProgress is a user's standing in one channel.
type ChannelProgress struct {
	ChannelID int64
	Title     string
	Code      string
	Count     int
	Target    int
	Reward    string
	Claimed   bool
	Eligible  bool
	Remaining int
}

type ClaimResult struct {
	ChannelID int64
	Title     string
	Reward    string
	Count     int
	ClaimedAt time.Time
}

type RewardUseCase interface {
	IsEligible(ctx context.Context, userID, channelID int64) (bool, error)
	// Claim grants the channel reward once. It fails with domain.ErrAlreadyClaimed
	// or domain.ErrNotEligible.
	Claim(ctx context.Context, userID, channelID int64) (*ClaimResult, error)
	Progress(ctx context.Context, userID int64) ([]ChannelProgress, error)
}

type rewardUC struct {
	users    repository.UserRepository
	channels repository.ChannelRepository
	tm       repository.TransactionManager
	policy   ReferralPolicy
	log      *zerolog.Logger
}

func NewRewardUseCase(
	users repository.UserRepository,
	channels repository.ChannelRepository,
	tm repository.TransactionManager,
	policy ReferralPolicy,
	logger *zerolog.Logger,
) *rewardUC {
	return &rewardUC{
		users:    users,
		channels: channels,
		tm:       tm,
		policy:   policy.withDefaults(),
		log:      logger,
	}
}

func (r *rewardUC) IsEligible(ctx context.Context, userID, channelID int64) (bool, error) {
	defer logging.TraceDuration(r.log, "RewardUC.IsEligible")()

	u, err := r.users.FindByID(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	target, _, _, err := channelSettings(ctx, r.channels, repository.NoTX, r.policy, channelID)
	if err != nil {
		return false, err
	}
	return eligible(u, channelID, target), nil
}

func eligible(u *model.User, channelID int64, target int) bool {
	return u.CreditCount(channelID) >= target && !u.HasClaimed(channelID)
}

func (r *rewardUC) Claim(ctx context.Context, userID, channelID int64) (*ClaimResult, error) {
	defer logging.TraceDuration(r.log, "RewardUC.Claim")()

	target, reward, title, err := channelSettings(ctx, r.channels, repository.NoTX, r.policy, channelID)
	if err != nil {
		metrics.IncRewardClaim("error")
		return nil, err
	}

	var out *ClaimResult
	err = r.tm.WithTx(ctx, usersOnly, func(ctx context.Context, tx repository.Tx) error {
		u, err := r.users.FindByID(ctx, tx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotEligible
		}
		if err != nil {
			return err
		}
		if u.HasClaimed(channelID) {
			return domain.ErrAlreadyClaimed
		}
		if u.CreditCount(channelID) < target {
			return domain.ErrNotEligible
		}
		now := time.Now().UTC()
		u.MarkClaimed(channelID, now)
		u.Touch()
		out = &ClaimResult{
			ChannelID: channelID,
			Title:     title,
			Reward:    reward,
			Count:     u.CreditCount(channelID),
			ClaimedAt: now,
		}
		return r.users.Save(ctx, tx, u)
	})

	switch {
	case err == nil:
		metrics.IncRewardClaim("granted")
		r.log.Info().Int64("user_id", userID).Int64("channel_id", channelID).Str("reward", reward).Msg("reward claimed")
		return out, nil
	case errors.Is(err, domain.ErrAlreadyClaimed):
		metrics.IncRewardClaim("already_claimed")
	case errors.Is(err, domain.ErrNotEligible):
		metrics.IncRewardClaim("not_eligible")
	default:
		metrics.IncRewardClaim("error")
		r.log.Error().Err(err).Int64("user_id", userID).Int64("channel_id", channelID).Msg("claim failed")
	}
	return nil, err
}

func (r *rewardUC) Progress(ctx context.Context, userID int64) ([]ChannelProgress, error) {
	defer logging.TraceDuration(r.log, "RewardUC.Progress")()

	u, err := r.users.FindByID(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []ChannelProgress
	for _, ch := range u.Channels() {
		if !r.policy.ChatAllowed(ch) {
			continue
		}
		target, reward, title, err := channelSettings(ctx, r.channels, repository.NoTX, r.policy, ch)
		if err != nil {
			return nil, err
		}
		code, _ := u.CodeFor(ch)
		count := u.CreditCount(ch)
		remaining := target - count
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, ChannelProgress{
			ChannelID: ch,
			Title:     title,
			Code:      code,
			Count:     count,
			Target:    target,
			Reward:    reward,
			Claimed:   u.HasClaimed(ch),
			Eligible:  eligible(u, ch, target),
			Remaining: remaining,
		})
	}
	return out, nil
}
