package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"telegram-referral-bot/internal/domain"
)

const maxChannelTitle = 50

// Channel is a Telegram channel with a referral programme.
type Channel struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Admins           IDSet     `json:"registered_admins"`
	ReferralTarget   int       `json:"referral_target"`
	RewardDescriptor string    `json:"reward_descriptor"`
	RegisteredAt     time.Time `json:"registered_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func NewChannel(id int64, title string, target int, reward string) (*Channel, error) {
	if id == 0 || target < 1 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Channel{
		ID:               id,
		Title:            SanitizeTitle(title),
		Admins:           IDSet{},
		ReferralTarget:   target,
		RewardDescriptor: reward,
		RegisteredAt:     now,
		UpdatedAt:        now,
	}, nil
}

func (c *Channel) Normalize() {
	if c.Admins == nil {
		c.Admins = IDSet{}
	}
}

// SanitizeTitle strips characters that break Markdown/file names and caps the length.
func SanitizeTitle(name string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if utf8.RuneCountInString(clean) > maxChannelTitle {
		runes := []rune(clean)
		clean = string(runes[:maxChannelTitle-3]) + "..."
	}
	if clean == "" {
		return "Unknown Channel"
	}
	return clean
}

func (c *Channel) Touch() { c.UpdatedAt = time.Now().UTC() }
