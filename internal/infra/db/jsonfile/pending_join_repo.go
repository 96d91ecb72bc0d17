package jsonfile

import (
	"context"
	"sort"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/jsonstore"
)

var _ repository.PendingJoinRepository = (*PendingJoinRepo)(nil)

type PendingJoinRepo struct {
	store *jsonstore.Store
}

func NewPendingJoinRepo(store *jsonstore.Store) *PendingJoinRepo {
	return &PendingJoinRepo{store: store}
}

// Put replaces any record for the same candidate and channel.
func (r *PendingJoinRepo) Put(ctx context.Context, tx repository.Tx, p *model.PendingJoin) error {
	if p == nil || p.CandidateID <= 0 || p.ChannelID == 0 {
		return domain.ErrInvalidArgument
	}
	return writeRow(ctx, r.store, tx, repository.TablePending, p.Key(), p)
}

func (r *PendingJoinRepo) Find(ctx context.Context, tx repository.Tx, candidateID, channelID int64) (*model.PendingJoin, error) {
	var p model.PendingJoin
	ok, err := readRow(ctx, r.store, tx, repository.TablePending, model.PendingKey(candidateID, channelID), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *PendingJoinRepo) Delete(ctx context.Context, tx repository.Tx, candidateID, channelID int64) error {
	return deleteRow(ctx, r.store, tx, repository.TablePending, model.PendingKey(candidateID, channelID))
}

// List returns pending records oldest first.
func (r *PendingJoinRepo) List(ctx context.Context, tx repository.Tx) ([]*model.PendingJoin, error) {
	var out []*model.PendingJoin
	err := eachRow(ctx, r.store, tx, repository.TablePending, func(p *model.PendingJoin) error {
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
