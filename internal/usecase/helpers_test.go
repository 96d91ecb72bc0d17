//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/db/jsonfile"
	"telegram-referral-bot/internal/usecase"
)

const testChannel int64 = -1001234567890

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// testEnv wires every use case over a real JSON store in a temp dir.
type testEnv struct {
	repos       *jsonfile.Repos
	users       usecase.UserUseCase
	channels    usecase.ChannelUseCase
	referral    usecase.ReferralUseCase
	attribution usecase.AttributionUseCase
	reward      usecase.RewardUseCase
}

func newTestEnv(t *testing.T, policy usecase.ReferralPolicy) *testEnv {
	t.Helper()
	log := newTestLogger()
	repos, err := jsonfile.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	if policy.BotUsername == "" {
		policy.BotUsername = "test_bot"
	}
	if policy.PendingTTL == 0 {
		policy.PendingTTL = 72 * time.Hour
	}
	return &testEnv{
		repos:       repos,
		users:       usecase.NewUserUseCase(repos.Users, repos.Tx, log),
		channels:    usecase.NewChannelUseCase(repos.Channels, repos.Tx, policy, log),
		referral:    usecase.NewReferralUseCase(repos.Users, repos.Codes, repos.Tx, policy, log),
		attribution: usecase.NewAttributionUseCase(repos.Users, repos.Codes, repos.Pending, repos.Channels, repos.Tx, policy, log),
		reward:      usecase.NewRewardUseCase(repos.Users, repos.Channels, repos.Tx, policy, log),
	}
}

// seedCode gives userID the fixed code for channelID, as if issued earlier.
func (e *testEnv) seedCode(t *testing.T, userID, channelID int64, code string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.repos.Codes.Insert(ctx, repository.NoTX, &model.ReferralCode{
		Code: code, UserID: userID, ChannelID: channelID, CreatedAt: time.Now().UTC(),
	}))
	u, err := model.NewUser(userID, "", "")
	require.NoError(t, err)
	u.ReferralCodes[channelID] = code
	require.NoError(t, e.repos.Users.Save(ctx, repository.NoTX, u))
}

func (e *testEnv) join(t *testing.T, userID, channelID int64) *usecase.JoinResult {
	t.Helper()
	res, err := e.attribution.OnChatMemberUpdate(context.Background(), usecase.MemberEvent{
		UserID: userID, ChannelID: channelID, Status: model.MemberJoined,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) leave(t *testing.T, userID, channelID int64) {
	t.Helper()
	_, err := e.attribution.OnChatMemberUpdate(context.Background(), usecase.MemberEvent{
		UserID: userID, ChannelID: channelID, Status: model.MemberLeft,
	})
	require.NoError(t, err)
}

func (e *testEnv) count(t *testing.T, userID, channelID int64) int {
	t.Helper()
	u, err := e.repos.Users.FindByID(context.Background(), repository.NoTX, userID)
	require.NoError(t, err)
	return u.CreditCount(channelID)
}
