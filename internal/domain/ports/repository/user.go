package repository

import (
	"context"

	"telegram-referral-bot/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	// FindByID returns domain.ErrNotFound when the user is unknown.
	FindByID(ctx context.Context, tx Tx, id int64) (*model.User, error)
	List(ctx context.Context, tx Tx) ([]*model.User, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)
}
