package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by bot flows.
type UserUseCase interface {
	RegisterOrFetch(ctx context.Context, tgID int64, username, firstName string) (*model.User, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	Count(ctx context.Context) (int, error)
	// MarkPendingWelcome remembers that the join welcome for channelID could not be delivered.
	MarkPendingWelcome(ctx context.Context, tgID, channelID int64) error
	// TakePendingWelcomes clears and returns the channels whose welcome is still owed.
	TakePendingWelcomes(ctx context.Context, tgID int64) ([]int64, error)
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	return &userUC{
		users: users,
		tm:    tm,
		log:   logger,
	}
}

var usersOnly = repository.TxOptions{Tables: []string{repository.TableUsers}}

// loadOrCreateUser returns the stored user or a fresh, unsaved one.
func loadOrCreateUser(ctx context.Context, users repository.UserRepository, tx repository.Tx, id int64) (*model.User, bool, error) {
	u, err := users.FindByID(ctx, tx, id)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	u, err = model.NewUser(id, "", "")
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username, firstName string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	var user *model.User
	var created bool
	err := u.tm.WithTx(ctx, usersOnly, func(ctx context.Context, tx repository.Tx) error {
		usr, isNew, err := loadOrCreateUser(ctx, u.users, tx, tgID)
		if err != nil {
			return err
		}
		changed := isNew
		if username != "" && usr.Username != username {
			usr.Username = username
			changed = true
		}
		if firstName != "" && usr.FirstName != firstName {
			usr.FirstName = firstName
			changed = true
		}
		user, created = usr, isNew
		if !changed {
			return nil
		}
		usr.Touch()
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		u.log.Error().Err(err).Int64("tg_id", tgID).Msg("Failed to register or fetch user")
		return nil, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Int64("tg_id", tgID).Msg("registered new user")
	}
	return user, nil
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByTelegramID")()
	return u.users.FindByID(ctx, repository.NoTX, tgID)
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "UserUC.Count")()
	return u.users.CountUsers(ctx, repository.NoTX)
}

func (u *userUC) MarkPendingWelcome(ctx context.Context, tgID, channelID int64) error {
	defer logging.TraceDuration(u.log, "UserUC.MarkPendingWelcome")()

	return u.tm.WithTx(ctx, usersOnly, func(ctx context.Context, tx repository.Tx) error {
		usr, _, err := loadOrCreateUser(ctx, u.users, tx, tgID)
		if err != nil {
			return err
		}
		if !usr.PendingWelcome.Add(channelID) {
			return nil
		}
		usr.Touch()
		return u.users.Save(ctx, tx, usr)
	})
}

func (u *userUC) TakePendingWelcomes(ctx context.Context, tgID int64) ([]int64, error) {
	defer logging.TraceDuration(u.log, "UserUC.TakePendingWelcomes")()

	var channels []int64
	err := u.tm.WithTx(ctx, usersOnly, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByID(ctx, tx, tgID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(usr.PendingWelcome) == 0 {
			return nil
		}
		channels = usr.PendingWelcome.Slice()
		usr.PendingWelcome = model.NewIDSet()
		usr.Touch()
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}
