package model

import (
	"fmt"
	"time"
)

type PendingKind string

const (
	// PendingCodePresented: the candidate started the bot with a code, join not yet seen.
	PendingCodePresented PendingKind = "code_presented"
	// PendingJoinObserved: the join was seen first, the code has not arrived yet.
	PendingJoinObserved PendingKind = "join_observed"
)

// PendingJoin is the half of an attribution that arrived first for (candidate, channel).
type PendingJoin struct {
	CandidateID int64       `json:"candidate_id"`
	ChannelID   int64       `json:"channel_id"`
	Kind        PendingKind `json:"kind"`
	Code        string      `json:"code,omitempty"`
	ReferrerID  int64       `json:"referrer_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func PendingKey(candidateID, channelID int64) string {
	return fmt.Sprintf("%d_%d", candidateID, channelID)
}

func (p *PendingJoin) Key() string { return PendingKey(p.CandidateID, p.ChannelID) }

func (p *PendingJoin) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(p.CreatedAt) > ttl
}

// MemberStatus is the membership transition delivered by the transport.
type MemberStatus string

const (
	MemberJoined MemberStatus = "member"
	MemberLeft   MemberStatus = "left"
)
