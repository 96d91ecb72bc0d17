package model

import (
	"time"

	"telegram-referral-bot/internal/domain"
)

// ChannelCredit is a referrer's credited referrals in one channel.
// Candidates records who has been credited so a candidate counts once.
type ChannelCredit struct {
	Count      int   `json:"count"`
	Candidates IDSet `json:"candidates"`
}

// User is a Telegram user known to the bot. Users are never deleted.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`

	// ReferralCodes holds the code issued to this user per channel.
	ReferralCodes map[int64]string `json:"referral_codes"`
	// ReferredBy holds, per channel, the code that attributed this user.
	ReferredBy     map[int64]string         `json:"referred_by"`
	JoinedChannels IDSet                    `json:"joined_channels"`
	Credits        map[int64]*ChannelCredit `json:"credits"`
	ClaimedRewards map[int64]time.Time      `json:"claimed_rewards"`
	PendingWelcome IDSet                    `json:"pending_welcome"`

	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewUser(id int64, username, firstName string) (*User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	u := &User{
		ID:           id,
		Username:     username,
		FirstName:    firstName,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	u.Normalize()
	return u, nil
}

// Normalize allocates nil collections, e.g. after decoding an older row.
func (u *User) Normalize() {
	if u.ReferralCodes == nil {
		u.ReferralCodes = map[int64]string{}
	}
	if u.ReferredBy == nil {
		u.ReferredBy = map[int64]string{}
	}
	if u.JoinedChannels == nil {
		u.JoinedChannels = IDSet{}
	}
	if u.Credits == nil {
		u.Credits = map[int64]*ChannelCredit{}
	}
	for _, c := range u.Credits {
		if c.Candidates == nil {
			c.Candidates = IDSet{}
		}
	}
	if u.ClaimedRewards == nil {
		u.ClaimedRewards = map[int64]time.Time{}
	}
	if u.PendingWelcome == nil {
		u.PendingWelcome = IDSet{}
	}
}

func (u *User) Touch() { u.UpdatedAt = time.Now().UTC() }

func (u *User) CodeFor(channelID int64) (string, bool) {
	code, ok := u.ReferralCodes[channelID]
	return code, ok && code != ""
}

func (u *User) IsMember(channelID int64) bool { return u.JoinedChannels.Has(channelID) }

func (u *User) SetMembership(channelID int64, joined bool) {
	if joined {
		u.JoinedChannels.Add(channelID)
		return
	}
	u.JoinedChannels.Remove(channelID)
}

// AttributedCode returns the code that attributed this user in the channel, if any.
func (u *User) AttributedCode(channelID int64) (string, bool) {
	code, ok := u.ReferredBy[channelID]
	return code, ok && code != ""
}

func (u *User) CreditCount(channelID int64) int {
	if c, ok := u.Credits[channelID]; ok {
		return c.Count
	}
	return 0
}

// Credit adds one referral for candidate in channel. It returns false when the
// candidate was already credited to this user for that channel.
func (u *User) Credit(channelID, candidateID int64) bool {
	c, ok := u.Credits[channelID]
	if !ok {
		c = &ChannelCredit{Candidates: IDSet{}}
		u.Credits[channelID] = c
	}
	if !c.Candidates.Add(candidateID) {
		return false
	}
	c.Count++
	return true
}

func (u *User) HasClaimed(channelID int64) bool {
	_, ok := u.ClaimedRewards[channelID]
	return ok
}

func (u *User) MarkClaimed(channelID int64, at time.Time) { u.ClaimedRewards[channelID] = at }

// Channels lists every channel the user has any state in, sorted.
func (u *User) Channels() []int64 {
	set := IDSet{}
	for id := range u.ReferralCodes {
		set.Add(id)
	}
	for id := range u.Credits {
		set.Add(id)
	}
	for id := range u.JoinedChannels {
		set.Add(id)
	}
	for id := range u.ClaimedRewards {
		set.Add(id)
	}
	return set.Slice()
}
