package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
)

var _ ReferralUseCase = (*referralUC)(nil)

const maxCodeAttempts = 8

// ReferralUseCase is the ledger of referral codes and channel membership.
type ReferralUseCase interface {
	// IssueCode returns the code of (user, channel), minting it on first use.
	IssueCode(ctx context.Context, userID, channelID int64) (string, error)
	// Resolve maps a code to its owner, or domain.ErrUnknownReferralCode.
	Resolve(ctx context.Context, code string) (*model.ReferralCode, error)
	RecordMembership(ctx context.Context, userID, channelID int64, status model.MemberStatus) error
	// CodeFor returns an already issued code without minting one.
	CodeFor(ctx context.Context, userID, channelID int64) (string, error)
	ReferralLink(code string) string
}

type referralUC struct {
	users  repository.UserRepository
	codes  repository.ReferralCodeRepository
	tm     repository.TransactionManager
	policy ReferralPolicy
	log    *zerolog.Logger
}

func NewReferralUseCase(
	users repository.UserRepository,
	codes repository.ReferralCodeRepository,
	tm repository.TransactionManager,
	policy ReferralPolicy,
	logger *zerolog.Logger,
) *referralUC {
	return &referralUC{
		users:  users,
		codes:  codes,
		tm:     tm,
		policy: policy.withDefaults(),
		log:    logger,
	}
}

// Codes commit before users: a crash in between leaves an orphaned code that
// FindByOwner recovers, never a user pointing at a missing code.
var issueTables = repository.TxOptions{Tables: []string{repository.TableCodes, repository.TableUsers}}

func (r *referralUC) IssueCode(ctx context.Context, userID, channelID int64) (string, error) {
	defer logging.TraceDuration(r.log, "ReferralUC.IssueCode")()

	if channelID == 0 {
		return "", domain.ErrInvalidArgument
	}
	if !r.policy.ChatAllowed(channelID) {
		return "", domain.ErrChatNotAllowed
	}
	var code string
	err := r.tm.WithTx(ctx, issueTables, func(ctx context.Context, tx repository.Tx) error {
		u, _, err := loadOrCreateUser(ctx, r.users, tx, userID)
		if err != nil {
			return err
		}
		code, err = issueCode(ctx, tx, r.codes, u, channelID, r.policy.CodeLength)
		if err != nil {
			return err
		}
		return r.users.Save(ctx, tx, u)
	})
	if err != nil {
		r.log.Error().Err(err).Int64("user_id", userID).Int64("channel_id", channelID).Msg("issue code failed")
		return "", err
	}
	return code, nil
}

// issueCode assigns u a code for channelID inside tx. The caller saves u.
func issueCode(ctx context.Context, tx repository.Tx, codes repository.ReferralCodeRepository, u *model.User, channelID int64, length int) (string, error) {
	if code, ok := u.CodeFor(channelID); ok {
		return code, nil
	}

	existing, err := codes.FindByOwner(ctx, tx, u.ID, channelID)
	if err == nil {
		u.ReferralCodes[channelID] = existing.Code
		u.Touch()
		return existing.Code, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateReferralCode(length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		rc := &model.ReferralCode{Code: code, UserID: u.ID, ChannelID: channelID, CreatedAt: time.Now().UTC()}
		err = codes.Insert(ctx, tx, rc)
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		u.ReferralCodes[channelID] = rc.Code
		u.Touch()
		metrics.IncCodeIssued()
		return rc.Code, nil
	}
	return "", fmt.Errorf("no free referral code after %d attempts: %w", maxCodeAttempts, domain.ErrAlreadyExists)
}

func (r *referralUC) Resolve(ctx context.Context, code string) (*model.ReferralCode, error) {
	defer logging.TraceDuration(r.log, "ReferralUC.Resolve")()
	return resolveCode(ctx, r.codes, repository.NoTX, code)
}

// resolveCode looks code up through tx. Inside WithTx it must be given the
// transaction's tx: a NoTX read would wait on the lock the transaction holds.
func resolveCode(ctx context.Context, codes repository.ReferralCodeRepository, tx repository.Tx, code string) (*model.ReferralCode, error) {
	rc, err := codes.FindByCode(ctx, tx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnknownReferralCode
	}
	return rc, err
}

func (r *referralUC) RecordMembership(ctx context.Context, userID, channelID int64, status model.MemberStatus) error {
	defer logging.TraceDuration(r.log, "ReferralUC.RecordMembership")()

	return r.tm.WithTx(ctx, usersOnly, func(ctx context.Context, tx repository.Tx) error {
		u, _, err := loadOrCreateUser(ctx, r.users, tx, userID)
		if err != nil {
			return err
		}
		u.SetMembership(channelID, status == model.MemberJoined)
		u.Touch()
		return r.users.Save(ctx, tx, u)
	})
}

func (r *referralUC) CodeFor(ctx context.Context, userID, channelID int64) (string, error) {
	u, err := r.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return "", err
	}
	code, ok := u.CodeFor(channelID)
	if !ok {
		return "", domain.ErrNotFound
	}
	return code, nil
}

func (r *referralUC) ReferralLink(code string) string {
	return ReferralLink(r.policy.BotUsername, code)
}

// ReferralLink builds the deep link that starts the bot with code.
func ReferralLink(botUsername, code string) string {
	name := strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	return "https://t.me/" + name + "?start=" + url.QueryEscape(code)
}
