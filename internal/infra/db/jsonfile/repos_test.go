//go:build !integration

package jsonfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
)

func openRepos(t *testing.T, dir string) *Repos {
	t.Helper()
	nop := zerolog.Nop()
	r, err := Open(dir, &nop)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestUserRepo_CRUD(t *testing.T) {
	dir := t.TempDir()
	r := openRepos(t, dir)
	ctx := context.Background()

	_, err := r.Users.FindByID(ctx, repository.NoTX, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	u, err := model.NewUser(1, "alice", "Alice")
	require.NoError(t, err)
	u.ReferralCodes[-100] = "ABC123"
	u.Credit(-100, 2)
	require.NoError(t, r.Users.Save(ctx, repository.NoTX, u))

	u2, _ := model.NewUser(2, "bob", "")
	require.NoError(t, r.Users.Save(ctx, repository.NoTX, u2))

	// Reopen to prove the rows are on disk.
	require.NoError(t, r.Close())
	r = openRepos(t, dir)

	got, err := r.Users.FindByID(ctx, repository.NoTX, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 1, got.CreditCount(-100))

	n, err := r.Users.CountUsers(ctx, repository.NoTX)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := r.Users.List(ctx, repository.NoTX)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
}

func TestReferralCodeRepo_InsertIsUnique(t *testing.T) {
	r := openRepos(t, t.TempDir())
	ctx := context.Background()

	c := &model.ReferralCode{Code: "abc123", UserID: 1, ChannelID: -100, CreatedAt: time.Now()}
	require.NoError(t, r.Codes.Insert(ctx, repository.NoTX, c))

	err := r.Codes.Insert(ctx, repository.NoTX, &model.ReferralCode{Code: "ABC123", UserID: 2, ChannelID: -100})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := r.Codes.FindByCode(ctx, repository.NoTX, " AbC123 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UserID)

	owned, err := r.Codes.FindByOwner(ctx, repository.NoTX, 1, -100)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", owned.Code)

	_, err = r.Codes.FindByOwner(ctx, repository.NoTX, 1, -200)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Codes.FindByCode(ctx, repository.NoTX, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPendingJoinRepo_PutReplacesAndListsOldestFirst(t *testing.T) {
	r := openRepos(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, r.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
		CandidateID: 2, ChannelID: -100, Kind: model.PendingCodePresented, Code: "OLD", CreatedAt: now,
	}))
	require.NoError(t, r.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
		CandidateID: 2, ChannelID: -100, Kind: model.PendingCodePresented, Code: "NEW", CreatedAt: now,
	}))
	require.NoError(t, r.Pending.Put(ctx, repository.NoTX, &model.PendingJoin{
		CandidateID: 3, ChannelID: -100, Kind: model.PendingJoinObserved, CreatedAt: now.Add(-time.Minute),
	}))

	p, err := r.Pending.Find(ctx, repository.NoTX, 2, -100)
	require.NoError(t, err)
	assert.Equal(t, "NEW", p.Code)

	list, err := r.Pending.List(ctx, repository.NoTX)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].CandidateID)

	require.NoError(t, r.Pending.Delete(ctx, repository.NoTX, 2, -100))
	_, err = r.Pending.Find(ctx, repository.NoTX, 2, -100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTxManager_CommitsAndRollsBack(t *testing.T) {
	r := openRepos(t, t.TempDir())
	ctx := context.Background()
	opts := repository.TxOptions{Tables: []string{repository.TableUsers, repository.TablePending}}

	err := r.Tx.WithTx(ctx, opts, func(ctx context.Context, tx repository.Tx) error {
		u, _ := model.NewUser(1, "", "")
		if err := r.Users.Save(ctx, tx, u); err != nil {
			return err
		}
		// Visible inside the transaction before commit.
		if _, err := r.Users.FindByID(ctx, tx, 1); err != nil {
			return err
		}
		return r.Pending.Put(ctx, tx, &model.PendingJoin{CandidateID: 1, ChannelID: 5, Kind: model.PendingJoinObserved})
	})
	require.NoError(t, err)

	_, err = r.Users.FindByID(ctx, repository.NoTX, 1)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.Tx.WithTx(ctx, opts, func(ctx context.Context, tx repository.Tx) error {
		if err := r.Pending.Delete(ctx, tx, 1, 5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = r.Pending.Find(ctx, repository.NoTX, 1, 5)
	assert.NoError(t, err, "rolled back delete must leave the record")
}

func TestTxManager_TableOutsideScope(t *testing.T) {
	r := openRepos(t, t.TempDir())
	ctx := context.Background()

	err := r.Tx.WithTx(ctx, repository.TxOptions{Tables: []string{repository.TableUsers}}, func(ctx context.Context, tx repository.Tx) error {
		return r.Channels.Save(ctx, tx, &model.Channel{ID: -1, Title: "x", ReferralTarget: 1})
	})
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestRepos_RejectForeignTx(t *testing.T) {
	r := openRepos(t, t.TempDir())
	_, err := r.Users.FindByID(context.Background(), struct{}{}, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
