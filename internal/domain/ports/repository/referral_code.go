package repository

import (
	"context"

	"telegram-referral-bot/internal/domain/model"
)

type ReferralCodeRepository interface {
	// Insert fails with domain.ErrAlreadyExists if the code is taken.
	Insert(ctx context.Context, tx Tx, c *model.ReferralCode) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ReferralCode, error)
	FindByOwner(ctx context.Context, tx Tx, userID, channelID int64) (*model.ReferralCode, error)
	Count(ctx context.Context, tx Tx) (int, error)
}
