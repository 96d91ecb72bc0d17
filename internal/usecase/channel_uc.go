package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/logging"
)

var _ ChannelUseCase = (*channelUC)(nil)

// ChannelSettings is the effective referral configuration of one channel.
type ChannelSettings struct {
	ChannelID int64
	Title     string
	Target    int
	Reward    string
}

type ChannelUseCase interface {
	// Register records channelID as managed by adminID, creating it with the default target and reward.
	Register(ctx context.Context, channelID int64, title string, adminID int64) (*model.Channel, error)
	// Observe keeps the stored title of a known channel current; unknown channels are left alone.
	Observe(ctx context.Context, channelID int64, title string) error
	Settings(ctx context.Context, channelID int64) (*ChannelSettings, error)
	List(ctx context.Context) ([]*model.Channel, error)
}

type channelUC struct {
	channels repository.ChannelRepository
	tm       repository.TransactionManager
	policy   ReferralPolicy
	log      *zerolog.Logger
}

func NewChannelUseCase(channels repository.ChannelRepository, tm repository.TransactionManager, policy ReferralPolicy, logger *zerolog.Logger) *channelUC {
	return &channelUC{
		channels: channels,
		tm:       tm,
		policy:   policy.withDefaults(),
		log:      logger,
	}
}

var channelsOnly = repository.TxOptions{Tables: []string{repository.TableChannels}}

func (c *channelUC) Register(ctx context.Context, channelID int64, title string, adminID int64) (*model.Channel, error) {
	defer logging.TraceDuration(c.log, "ChannelUC.Register")()

	if !c.policy.ChatAllowed(channelID) {
		return nil, domain.ErrChatNotAllowed
	}
	var out *model.Channel
	err := c.tm.WithTx(ctx, channelsOnly, func(ctx context.Context, tx repository.Tx) error {
		ch, err := c.channels.FindByID(ctx, tx, channelID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			ch, err = model.NewChannel(channelID, title, c.policy.DefaultTarget, c.policy.DefaultReward)
			if err != nil {
				return err
			}
			c.log.Info().Int64("channel_id", channelID).Int64("admin_id", adminID).Msg("registered channel")
		case err != nil:
			return err
		default:
			if title != "" {
				ch.Title = model.SanitizeTitle(title)
			}
		}
		ch.Admins.Add(adminID)
		ch.Touch()
		out = ch
		return c.channels.Save(ctx, tx, ch)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *channelUC) Observe(ctx context.Context, channelID int64, title string) error {
	if title == "" {
		return nil
	}
	return c.tm.WithTx(ctx, channelsOnly, func(ctx context.Context, tx repository.Tx) error {
		ch, err := c.channels.FindByID(ctx, tx, channelID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		clean := model.SanitizeTitle(title)
		if ch.Title == clean {
			return nil
		}
		ch.Title = clean
		ch.Touch()
		return c.channels.Save(ctx, tx, ch)
	})
}

func (c *channelUC) Settings(ctx context.Context, channelID int64) (*ChannelSettings, error) {
	target, reward, title, err := channelSettings(ctx, c.channels, repository.NoTX, c.policy, channelID)
	if err != nil {
		return nil, err
	}
	return &ChannelSettings{ChannelID: channelID, Title: title, Target: target, Reward: reward}, nil
}

func (c *channelUC) List(ctx context.Context) ([]*model.Channel, error) {
	return c.channels.List(ctx, repository.NoTX)
}
