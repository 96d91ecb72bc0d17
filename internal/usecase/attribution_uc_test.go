//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/usecase"
)

const (
	referrerA  int64 = 100
	candidateB int64 = 200
)

func TestAttribution_CodeThenJoinLeaveRejoin(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	start, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomePending, start.Outcome)
	assert.Equal(t, referrerA, start.Referral.UserID)
	assert.Equal(t, 0, env.count(t, referrerA, testChannel), "presenting a code alone credits nothing")

	res := env.join(t, candidateB, testChannel)
	assert.Equal(t, usecase.OutcomeCredited, res.Outcome)
	require.NotNil(t, res.Attribution)
	assert.Equal(t, referrerA, res.Attribution.ReferrerID)
	assert.Equal(t, 1, res.Attribution.Count)
	assert.NotEmpty(t, res.OwnCode, "joining user receives their own code")
	assert.Equal(t, 1, env.count(t, referrerA, testChannel))

	_, err = env.repos.Pending.Find(ctx, repository.NoTX, candidateB, testChannel)
	assert.ErrorIs(t, err, domain.ErrNotFound, "pending record is consumed")

	env.leave(t, candidateB, testChannel)
	assert.Equal(t, 1, env.count(t, referrerA, testChannel), "credit is sticky on leave")

	res = env.join(t, candidateB, testChannel)
	assert.Equal(t, usecase.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, env.count(t, referrerA, testChannel), "rejoin does not credit again")

	again, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomeDuplicate, again.Outcome)
	env.leave(t, candidateB, testChannel)
	env.join(t, candidateB, testChannel)
	assert.Equal(t, 1, env.count(t, referrerA, testChannel))

	cand, err := env.users.GetByTelegramID(ctx, candidateB)
	require.NoError(t, err)
	code, ok := cand.AttributedCode(testChannel)
	assert.True(t, ok)
	assert.Equal(t, "ABC123", code)
}

func TestAttribution_JoinThenStartAttributes(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	res := env.join(t, candidateB, testChannel)
	assert.Equal(t, usecase.OutcomeOrganic, res.Outcome)

	p, err := env.repos.Pending.Find(ctx, repository.NoTX, candidateB, testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.PendingJoinObserved, p.Kind)

	start, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomeCredited, start.Outcome)
	require.NotNil(t, start.Attribution)
	assert.Equal(t, 1, env.count(t, referrerA, testChannel))

	_, err = env.repos.Pending.Find(ctx, repository.NoTX, candidateB, testChannel)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttribution_MemberWithoutRecordIsNotCredited(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	env.join(t, candidateB, testChannel)
	require.NoError(t, env.repos.Pending.Delete(ctx, repository.NoTX, candidateB, testChannel))

	start, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomeAlreadyMember, start.Outcome)
	assert.Equal(t, 0, env.count(t, referrerA, testChannel))
}

func TestAttribution_ExpiredPendingDoesNotCredit(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{PendingTTL: time.Hour})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	require.NoError(t, env.repos.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
		CandidateID: candidateB,
		ChannelID:   testChannel,
		Kind:        model.PendingCodePresented,
		Code:        "ABC123",
		ReferrerID:  referrerA,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}))

	res := env.join(t, candidateB, testChannel)
	assert.Equal(t, usecase.OutcomeOrganic, res.Outcome)
	assert.Equal(t, 0, env.count(t, referrerA, testChannel))
}

func TestAttribution_UnknownPendingCodeIsDropped(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()

	require.NoError(t, env.repos.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
		CandidateID: candidateB, ChannelID: testChannel, Kind: model.PendingCodePresented,
		Code: "GONE9999", CreatedAt: time.Now(),
	}))

	res := env.join(t, candidateB, testChannel)
	assert.Equal(t, usecase.OutcomeUnresolved, res.Outcome)
	_, err := env.repos.Pending.Find(ctx, repository.NoTX, candidateB, testChannel)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttribution_RefusesBadStarts(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	_, err := env.attribution.OnStart(ctx, referrerA, "ABC123")
	assert.ErrorIs(t, err, domain.ErrSelfReferral)

	_, err = env.attribution.OnStart(ctx, candidateB, "ZZZ999")
	assert.ErrorIs(t, err, domain.ErrUnknownReferralCode)
}

func TestAttribution_LastPresentedCodeWins(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")
	env.seedCode(t, 300, testChannel, "XYZ789")

	_, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	_, err = env.attribution.OnStart(ctx, candidateB, "XYZ789")
	require.NoError(t, err)

	env.join(t, candidateB, testChannel)
	assert.Equal(t, 0, env.count(t, referrerA, testChannel))
	assert.Equal(t, 1, env.count(t, 300, testChannel))
}

func TestAttribution_LeaveDropsJoinObservedRecord(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	env.join(t, candidateB, testChannel)
	env.leave(t, candidateB, testChannel)

	_, err := env.repos.Pending.Find(ctx, repository.NoTX, candidateB, testChannel)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A code presented while outside the channel waits for the next join.
	start, err := env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomePending, start.Outcome)
	env.join(t, candidateB, testChannel)
	assert.Equal(t, 1, env.count(t, referrerA, testChannel))
}

func TestAttribution_TargetReachedOnlyOnce(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{DefaultTarget: 3})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	var reached []bool
	for cand := int64(1); cand <= 4; cand++ {
		_, err := env.attribution.OnStart(ctx, cand, "ABC123")
		require.NoError(t, err)
		res := env.join(t, cand, testChannel)
		require.NotNil(t, res.Attribution)
		reached = append(reached, res.Attribution.TargetReached)
	}
	assert.Equal(t, []bool{false, false, true, false}, reached)
}

func TestAttribution_ConcurrentJoinsCountEveryCandidate(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")

	const n = 20
	for cand := int64(1); cand <= n; cand++ {
		_, err := env.attribution.OnStart(ctx, cand, "ABC123")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for cand := int64(1); cand <= n; cand++ {
		wg.Add(2)
		// Duplicate deliveries of the same join must not double count.
		for i := 0; i < 2; i++ {
			go func(cand int64) {
				defer wg.Done()
				_, err := env.attribution.OnChatMemberUpdate(ctx, usecase.MemberEvent{
					UserID: cand, ChannelID: testChannel, Status: model.MemberJoined,
				})
				assert.NoError(t, err)
			}(cand)
		}
	}
	wg.Wait()
	assert.Equal(t, n, env.count(t, referrerA, testChannel))
}

func TestAttribution_CleanupExpired(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{PendingTTL: time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{2 * time.Hour, 3 * time.Hour, time.Minute} {
		require.NoError(t, env.repos.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
			CandidateID: int64(i + 1), ChannelID: testChannel, Kind: model.PendingJoinObserved,
			CreatedAt: now.Add(-age),
		}))
	}

	removed, err := env.attribution.CleanupExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := env.repos.Pending.List(ctx, repository.NoTX)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(3), left[0].CandidateID)
}

func TestAttribution_IgnoresChatsOutsideWhitelist(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{AllowedChats: []int64{-42}})

	_, err := env.attribution.OnChatMemberUpdate(context.Background(), usecase.MemberEvent{
		UserID: 1, ChannelID: testChannel, Status: model.MemberJoined,
	})
	assert.ErrorIs(t, err, domain.ErrChatNotAllowed)
}

// withinDeadline fails the test instead of hanging when fn blocks on a lock.
func withinDeadline(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %s", what, d)
	}
}

func TestAttribution_StartThenJoinCompletesPromptly(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{DefaultTarget: 2})
	ctx := context.Background()
	env.seedCode(t, referrerA, testChannel, "ABC123")
	_, err := env.channels.Register(ctx, testChannel, "Growth", referrerA)
	require.NoError(t, err)

	_, err = env.attribution.OnStart(ctx, candidateB, "ABC123")
	require.NoError(t, err)

	var (
		res     *usecase.JoinResult
		joinErr error
	)
	withinDeadline(t, 3*time.Second, "join after start with code", func() {
		res, joinErr = env.attribution.OnChatMemberUpdate(ctx, usecase.MemberEvent{
			UserID: candidateB, ChannelID: testChannel, Status: model.MemberJoined,
		})
	})
	require.NoError(t, joinErr)
	assert.Equal(t, usecase.OutcomeCredited, res.Outcome)
	require.NotNil(t, res.Attribution)
	assert.Equal(t, 2, res.Attribution.Target, "registered channel target is read inside the transaction")

	// Every table touched by the join is free again.
	withinDeadline(t, 3*time.Second, "follow-up reads and writes", func() {
		_, err := env.referral.Resolve(ctx, "ABC123")
		assert.NoError(t, err)
		_, err = env.referral.IssueCode(ctx, 300, testChannel)
		assert.NoError(t, err)
		_, err = env.repos.Pending.List(ctx, repository.NoTX)
		assert.NoError(t, err)
	})
	assert.Equal(t, 1, env.count(t, referrerA, testChannel))
}
