package jsonfile

import (
	"context"
	"sort"
	"strconv"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/jsonstore"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	store *jsonstore.Store
}

func NewUserRepo(store *jsonstore.Store) *UserRepo {
	return &UserRepo{store: store}
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

func (r *UserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if u == nil || u.ID <= 0 {
		return domain.ErrInvalidArgument
	}
	return writeRow(ctx, r.store, tx, repository.TableUsers, userKey(u.ID), u)
}

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	var u model.User
	ok, err := readRow(ctx, r.store, tx, repository.TableUsers, userKey(id), &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.Normalize()
	return &u, nil
}

// List returns all users ordered by id.
func (r *UserRepo) List(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	var out []*model.User
	err := eachRow(ctx, r.store, tx, repository.TableUsers, func(u *model.User) error {
		u.Normalize()
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *UserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return countRows(ctx, r.store, tx, repository.TableUsers)
}
