//go:build !integration

package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/usecase"
)

func TestUserUseCase_RegisterOrFetch(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()

	u, err := env.users.RegisterOrFetch(ctx, 12345, "old_username", "Old")
	require.NoError(t, err)
	assert.Equal(t, "old_username", u.Username)

	u, err = env.users.RegisterOrFetch(ctx, 12345, "new_username", "")
	require.NoError(t, err)
	assert.Equal(t, "new_username", u.Username)
	assert.Equal(t, "Old", u.FirstName, "empty first name keeps the stored one")

	n, err := env.users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.users.GetByTelegramID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserUseCase_PendingWelcomes(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{})
	ctx := context.Background()

	require.NoError(t, env.users.MarkPendingWelcome(ctx, 7, testChannel))
	require.NoError(t, env.users.MarkPendingWelcome(ctx, 7, testChannel))
	require.NoError(t, env.users.MarkPendingWelcome(ctx, 7, -5))

	got, err := env.users.TakePendingWelcomes(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{testChannel, -5}, got)

	got, err = env.users.TakePendingWelcomes(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = env.users.TakePendingWelcomes(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChannelUseCase_RegisterAndSettings(t *testing.T) {
	env := newTestEnv(t, usecase.ReferralPolicy{DefaultTarget: 5, DefaultReward: "Badge"})
	ctx := context.Background()

	s, err := env.channels.Settings(ctx, testChannel)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Target)
	assert.Equal(t, "Badge", s.Reward)
	assert.Empty(t, s.Title)

	ch, err := env.channels.Register(ctx, testChannel, "Growth <Hub>", 1)
	require.NoError(t, err)
	assert.Equal(t, "Growth Hub", ch.Title)
	assert.True(t, ch.Admins.Has(1))

	_, err = env.channels.Register(ctx, testChannel, "", 2)
	require.NoError(t, err)
	require.NoError(t, env.channels.Observe(ctx, testChannel, "Renamed"))

	list, err := env.channels.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)
	assert.True(t, list[0].Admins.Has(1))
	assert.True(t, list[0].Admins.Has(2))
}
