package model

import "time"

// ReferralCode binds an opaque code to exactly one (user, channel) pair. Immutable.
type ReferralCode struct {
	Code      string    `json:"code"`
	UserID    int64     `json:"user_id"`
	ChannelID int64     `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}
