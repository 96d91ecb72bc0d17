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

var _ repository.ChannelRepository = (*ChannelRepo)(nil)

type ChannelRepo struct {
	store *jsonstore.Store
}

func NewChannelRepo(store *jsonstore.Store) *ChannelRepo {
	return &ChannelRepo{store: store}
}

func (r *ChannelRepo) Save(ctx context.Context, tx repository.Tx, c *model.Channel) error {
	if c == nil || c.ID == 0 {
		return domain.ErrInvalidArgument
	}
	return writeRow(ctx, r.store, tx, repository.TableChannels, strconv.FormatInt(c.ID, 10), c)
}

func (r *ChannelRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Channel, error) {
	var c model.Channel
	ok, err := readRow(ctx, r.store, tx, repository.TableChannels, strconv.FormatInt(id, 10), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.Normalize()
	return &c, nil
}

func (r *ChannelRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Channel, error) {
	var out []*model.Channel
	err := eachRow(ctx, r.store, tx, repository.TableChannels, func(c *model.Channel) error {
		c.Normalize()
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
