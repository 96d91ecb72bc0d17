package repository

import (
	"context"

	"telegram-referral-bot/internal/domain/model"
)

type ChannelRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Channel) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Channel, error)
	List(ctx context.Context, tx Tx) ([]*model.Channel, error)
}
