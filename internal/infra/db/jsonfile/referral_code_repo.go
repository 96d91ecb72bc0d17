package jsonfile

import (
	"context"
	"strings"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/jsonstore"
)

var _ repository.ReferralCodeRepository = (*ReferralCodeRepo)(nil)

type ReferralCodeRepo struct {
	store *jsonstore.Store
}

func NewReferralCodeRepo(store *jsonstore.Store) *ReferralCodeRepo {
	return &ReferralCodeRepo{store: store}
}

// Codes are case-insensitive on lookup and stored upper-case.
func codeKey(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (r *ReferralCodeRepo) Insert(ctx context.Context, tx repository.Tx, c *model.ReferralCode) error {
	if c == nil || codeKey(c.Code) == "" || c.UserID <= 0 {
		return domain.ErrInvalidArgument
	}
	c.Code = codeKey(c.Code)

	insert := func(tx repository.Tx) error {
		var existing model.ReferralCode
		found, err := readRow(ctx, r.store, tx, repository.TableCodes, c.Code, &existing)
		if err != nil {
			return err
		}
		if found {
			return domain.ErrAlreadyExists
		}
		return writeRow(ctx, r.store, tx, repository.TableCodes, c.Code, c)
	}

	stx, err := stagedTx(tx)
	if err != nil {
		return err
	}
	if stx != nil {
		return insert(stx)
	}
	// Check and write under one lock.
	return r.store.Update(ctx, []string{repository.TableCodes}, func(t *jsonstore.Tx) error {
		return insert(t)
	})
}

func (r *ReferralCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ReferralCode, error) {
	key := codeKey(code)
	if key == "" {
		return nil, domain.ErrNotFound
	}
	var c model.ReferralCode
	ok, err := readRow(ctx, r.store, tx, repository.TableCodes, key, &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *ReferralCodeRepo) FindByOwner(ctx context.Context, tx repository.Tx, userID, channelID int64) (*model.ReferralCode, error) {
	var found *model.ReferralCode
	err := eachRow(ctx, r.store, tx, repository.TableCodes, func(c *model.ReferralCode) error {
		if c.UserID != userID || c.ChannelID != channelID {
			return nil
		}
		// Oldest wins if an interrupted issue left two codes behind.
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *ReferralCodeRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	return countRows(ctx, r.store, tx, repository.TableCodes)
}
