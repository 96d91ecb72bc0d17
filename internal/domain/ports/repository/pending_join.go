package repository

import (
	"context"

	"telegram-referral-bot/internal/domain/model"
)

type PendingJoinRepository interface {
	Put(ctx context.Context, tx Tx, p *model.PendingJoin) error
	Find(ctx context.Context, tx Tx, candidateID, channelID int64) (*model.PendingJoin, error)
	Delete(ctx context.Context, tx Tx, candidateID, channelID int64) error
	List(ctx context.Context, tx Tx) ([]*model.PendingJoin, error)
}
