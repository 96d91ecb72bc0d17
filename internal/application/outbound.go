package application

import "telegram-referral-bot/internal/domain/ports/adapter"

// OutboundKind tells the transport how to treat a message it fails to deliver.
type OutboundKind string

const (
	KindReply   OutboundKind = "reply"
	KindWelcome OutboundKind = "welcome" // undelivered welcomes are retried on the next /start
	KindNotify  OutboundKind = "notify"
)

// Outbound is one message the transport should send.
type Outbound struct {
	ChatID  int64
	Text    string
	Buttons [][]adapter.InlineButton
	Kind    OutboundKind
	// ChannelID is the channel a welcome belongs to.
	ChannelID int64
}

func reply(chatID int64, text string, rows ...[]adapter.InlineButton) Outbound {
	return Outbound{ChatID: chatID, Text: text, Buttons: rows, Kind: KindReply}
}

// Requester identifies who sent an update and where.
type Requester struct {
	UserID    int64
	ChatID    int64
	ChatTitle string
	Private   bool
	Username  string
	FirstName string
}

// MemberUpdate is a join or leave observed in a channel.
type MemberUpdate struct {
	UserID    int64
	ChannelID int64
	Title     string
	Username  string
	FirstName string
	Joined    bool
	IsBot     bool
}

// DisplayName prefers @username, then first name.
func (m MemberUpdate) DisplayName() string {
	switch {
	case m.Username != "":
		return "@" + m.Username
	case m.FirstName != "":
		return m.FirstName
	default:
		return "a new member"
	}
}
