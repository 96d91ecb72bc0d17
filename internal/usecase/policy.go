package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/ports/repository"
)

// ReferralPolicy carries the startup configuration the use cases share.
// It is immutable once the application is wired.
type ReferralPolicy struct {
	BotUsername   string
	DefaultTarget int
	DefaultReward string
	PendingTTL    time.Duration
	AllowedChats  []int64
	CodeLength    int
}

func (p ReferralPolicy) withDefaults() ReferralPolicy {
	if p.DefaultTarget < 1 {
		p.DefaultTarget = 10
	}
	if p.DefaultReward == "" {
		p.DefaultReward = "Premium Access"
	}
	if p.CodeLength < 6 {
		p.CodeLength = 8
	}
	return p
}

// ChatAllowed reports whether events from chatID are processed. An empty
// whitelist allows every chat.
func (p ReferralPolicy) ChatAllowed(chatID int64) bool {
	if len(p.AllowedChats) == 0 {
		return true
	}
	for _, id := range p.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// channelSettings resolves target, reward and title of a channel, falling back
// to the policy defaults for channels no admin has registered yet.
func channelSettings(ctx context.Context, channels repository.ChannelRepository, tx repository.Tx, p ReferralPolicy, channelID int64) (target int, reward, title string, err error) {
	target, reward = p.DefaultTarget, p.DefaultReward
	ch, err := channels.FindByID(ctx, tx, channelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return target, reward, "", nil
		}
		return 0, "", "", err
	}
	if ch.ReferralTarget >= 1 {
		target = ch.ReferralTarget
	}
	if ch.RewardDescriptor != "" {
		reward = ch.RewardDescriptor
	}
	return target, reward, ch.Title, nil
}

// generateReferralCode creates a random, human-readable referral code.
func generateReferralCode(length int) (string, error) {
	// A character set that avoids ambiguous characters like O/0, I/1, l.
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	buffer := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
		return "", err
	}
	for i := 0; i < length; i++ {
		buffer[i] = chars[int(buffer[i])%len(chars)]
	}
	return string(buffer), nil
}
