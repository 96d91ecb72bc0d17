package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/model"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
)

var _ AttributionUseCase = (*attributionUC)(nil)

// Outcome names what an attribution event did.
type Outcome string

const (
	OutcomePending       Outcome = "pending"        // code stored, join awaited
	OutcomeCredited      Outcome = "credited"       // referrer received +1
	OutcomeDuplicate     Outcome = "duplicate"      // candidate already attributed or credited
	OutcomeAlreadyMember Outcome = "already_member" // joined earlier without a usable code
	OutcomeOrganic       Outcome = "organic"        // join with no code yet
	OutcomeUnresolved    Outcome = "unknown_code"   // pending code no longer resolves
	OutcomeLeft          Outcome = "left"
)

// Attribution describes one credited referral.
type Attribution struct {
	ReferrerID  int64
	CandidateID int64
	ChannelID   int64
	Code        string
	Count       int
	Target      int
	// TargetReached is true only for the credit that brought Count to Target.
	TargetReached bool
}

type StartResult struct {
	Outcome     Outcome
	Referral    *model.ReferralCode
	Attribution *Attribution
}

// MemberEvent is a membership change observed in a channel.
type MemberEvent struct {
	UserID    int64
	ChannelID int64
	Username  string
	FirstName string
	Status    model.MemberStatus
}

type JoinResult struct {
	Outcome     Outcome
	Attribution *Attribution
	// OwnCode is the joining user's own referral code for the channel.
	OwnCode string
	// WasMember is set when the event repeats a membership already recorded.
	WasMember bool
}

// AttributionUseCase maps channel joins to the referral codes that caused them.
type AttributionUseCase interface {
	// OnStart handles a user opening the bot with a referral code.
	OnStart(ctx context.Context, candidateID int64, code string) (*StartResult, error)
	OnChatMemberUpdate(ctx context.Context, ev MemberEvent) (*JoinResult, error)
	// CleanupExpired drops pending records older than the pending TTL.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

type attributionUC struct {
	users    repository.UserRepository
	codes    repository.ReferralCodeRepository
	pending  repository.PendingJoinRepository
	channels repository.ChannelRepository
	tm       repository.TransactionManager
	policy   ReferralPolicy
	now      func() time.Time
	log      *zerolog.Logger
}

func NewAttributionUseCase(
	users repository.UserRepository,
	codes repository.ReferralCodeRepository,
	pending repository.PendingJoinRepository,
	channels repository.ChannelRepository,
	tm repository.TransactionManager,
	policy ReferralPolicy,
	logger *zerolog.Logger,
) *attributionUC {
	return &attributionUC{
		users:    users,
		codes:    codes,
		pending:  pending,
		channels: channels,
		tm:       tm,
		policy:   policy.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

// Users commit before pending records so a lost pending delete can only
// replay into the referrer's dedupe set. Channels are locked for reading the
// target only and are never written here.
var (
	startTables  = repository.TxOptions{Tables: []string{repository.TableUsers, repository.TablePending, repository.TableChannels}}
	memberTables = repository.TxOptions{Tables: []string{repository.TableCodes, repository.TableUsers, repository.TablePending, repository.TableChannels}}
)

func (a *attributionUC) OnStart(ctx context.Context, candidateID int64, code string) (*StartResult, error) {
	defer logging.TraceDuration(a.log, "AttributionUC.OnStart")()

	rc, err := resolveCode(ctx, a.codes, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownReferralCode) {
			metrics.IncAttribution(string(OutcomeUnresolved))
		}
		return nil, err
	}
	if !a.policy.ChatAllowed(rc.ChannelID) {
		return nil, domain.ErrChatNotAllowed
	}
	if rc.UserID == candidateID {
		metrics.IncAttribution("self")
		return nil, domain.ErrSelfReferral
	}

	res := &StartResult{Referral: rc}
	now := a.now()
	err = a.tm.WithTx(ctx, startTables, func(ctx context.Context, tx repository.Tx) error {
		cand, _, err := loadOrCreateUser(ctx, a.users, tx, candidateID)
		if err != nil {
			return err
		}
		if _, ok := cand.AttributedCode(rc.ChannelID); ok {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		p, err := a.findPending(ctx, tx, candidateID, rc.ChannelID, now)
		if err != nil {
			return err
		}
		if p != nil && p.Kind == model.PendingJoinObserved && cand.IsMember(rc.ChannelID) {
			// The join arrived first; attribute now.
			att, err := a.attribute(ctx, tx, cand, rc)
			if err != nil {
				return err
			}
			if err := a.users.Save(ctx, tx, cand); err != nil {
				return err
			}
			res.Attribution, res.Outcome = att, outcomeOf(att)
			return a.pending.Delete(ctx, tx, candidateID, rc.ChannelID)
		}
		if cand.IsMember(rc.ChannelID) {
			res.Outcome = OutcomeAlreadyMember
			return nil
		}

		// Last presented code wins until the join is observed.
		res.Outcome = OutcomePending
		if err := a.users.Save(ctx, tx, cand); err != nil {
			return err
		}
		return a.pending.Put(ctx, tx, &model.PendingJoin{
			CandidateID: candidateID,
			ChannelID:   rc.ChannelID,
			Kind:        model.PendingCodePresented,
			Code:        rc.Code,
			ReferrerID:  rc.UserID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		a.log.Error().Err(err).Int64("candidate_id", candidateID).Msg("start with code failed")
		return nil, err
	}
	metrics.IncAttribution(string(res.Outcome))
	a.log.Info().
		Int64("candidate_id", candidateID).
		Int64("channel_id", rc.ChannelID).
		Int64("referrer_id", rc.UserID).
		Str("outcome", string(res.Outcome)).
		Msg("referral code presented")
	return res, nil
}

func (a *attributionUC) OnChatMemberUpdate(ctx context.Context, ev MemberEvent) (*JoinResult, error) {
	defer logging.TraceDuration(a.log, "AttributionUC.OnChatMemberUpdate")()

	if ev.UserID <= 0 || ev.ChannelID == 0 {
		return nil, domain.ErrInvalidArgument
	}
	if !a.policy.ChatAllowed(ev.ChannelID) {
		return nil, domain.ErrChatNotAllowed
	}

	res := &JoinResult{}
	now := a.now()
	err := a.tm.WithTx(ctx, memberTables, func(ctx context.Context, tx repository.Tx) error {
		cand, _, err := loadOrCreateUser(ctx, a.users, tx, ev.UserID)
		if err != nil {
			return err
		}
		if ev.Username != "" {
			cand.Username = ev.Username
		}
		if ev.FirstName != "" {
			cand.FirstName = ev.FirstName
		}
		res.WasMember = cand.IsMember(ev.ChannelID)

		if ev.Status == model.MemberLeft {
			return a.leave(ctx, tx, cand, ev.ChannelID, res)
		}
		return a.join(ctx, tx, cand, ev.ChannelID, now, res)
	})
	if err != nil {
		a.log.Error().Err(err).Int64("user_id", ev.UserID).Int64("channel_id", ev.ChannelID).Msg("member update failed")
		return nil, err
	}
	metrics.IncAttribution(string(res.Outcome))
	a.log.Info().
		Int64("user_id", ev.UserID).
		Int64("channel_id", ev.ChannelID).
		Str("status", string(ev.Status)).
		Str("outcome", string(res.Outcome)).
		Msg("member update")
	return res, nil
}

func (a *attributionUC) join(ctx context.Context, tx repository.Tx, cand *model.User, channelID int64, now time.Time, res *JoinResult) error {
	cand.SetMembership(channelID, true)
	cand.Touch()

	own, err := issueCode(ctx, tx, a.codes, cand, channelID, a.policy.CodeLength)
	if err != nil {
		return err
	}
	res.OwnCode = own

	if _, ok := cand.AttributedCode(channelID); ok {
		// Rejoin: the first attribution stands.
		res.Outcome = OutcomeDuplicate
		if err := a.users.Save(ctx, tx, cand); err != nil {
			return err
		}
		return a.pending.Delete(ctx, tx, cand.ID, channelID)
	}

	p, err := a.findPending(ctx, tx, cand.ID, channelID, now)
	if err != nil {
		return err
	}
	if p != nil && p.Kind == model.PendingCodePresented {
		rc, err := resolveCode(ctx, a.codes, tx, p.Code)
		switch {
		case errors.Is(err, domain.ErrUnknownReferralCode) || (err == nil && rc.UserID == cand.ID):
			a.log.Warn().Str("code", p.Code).Int64("candidate_id", cand.ID).Msg("pending code did not resolve, dropping")
			res.Outcome = OutcomeUnresolved
			if err := a.users.Save(ctx, tx, cand); err != nil {
				return err
			}
			return a.pending.Delete(ctx, tx, cand.ID, channelID)
		case err != nil:
			return err
		}
		att, err := a.attribute(ctx, tx, cand, rc)
		if err != nil {
			return err
		}
		res.Attribution, res.Outcome = att, outcomeOf(att)
		if err := a.users.Save(ctx, tx, cand); err != nil {
			return err
		}
		return a.pending.Delete(ctx, tx, cand.ID, channelID)
	}

	// No code yet: remember the join so a late start can still attribute it.
	res.Outcome = OutcomeOrganic
	if err := a.users.Save(ctx, tx, cand); err != nil {
		return err
	}
	if p != nil && p.Kind == model.PendingJoinObserved {
		return nil
	}
	return a.pending.Put(ctx, tx, &model.PendingJoin{
		CandidateID: cand.ID,
		ChannelID:   channelID,
		Kind:        model.PendingJoinObserved,
		CreatedAt:   now,
	})
}

// leave records the departure. Credit already granted is never taken back.
func (a *attributionUC) leave(ctx context.Context, tx repository.Tx, cand *model.User, channelID int64, res *JoinResult) error {
	res.Outcome = OutcomeLeft
	cand.SetMembership(channelID, false)
	cand.Touch()
	if err := a.users.Save(ctx, tx, cand); err != nil {
		return err
	}
	p, err := a.pending.Find(ctx, tx, cand.ID, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Kind == model.PendingJoinObserved {
		return a.pending.Delete(ctx, tx, cand.ID, channelID)
	}
	return nil
}

// findPending returns the live pending record, deleting it when expired.
func (a *attributionUC) findPending(ctx context.Context, tx repository.Tx, candidateID, channelID int64, now time.Time) (*model.PendingJoin, error) {
	p, err := a.pending.Find(ctx, tx, candidateID, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Expired(now, a.policy.PendingTTL) {
		metrics.IncAttribution("expired")
		if err := a.pending.Delete(ctx, tx, candidateID, channelID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

// attribute binds cand to rc and credits the referrer. It returns nil when the
// referrer was already credited for cand. The caller saves cand.
func (a *attributionUC) attribute(ctx context.Context, tx repository.Tx, cand *model.User, rc *model.ReferralCode) (*Attribution, error) {
	referrer, _, err := loadOrCreateUser(ctx, a.users, tx, rc.UserID)
	if err != nil {
		return nil, err
	}
	target, _, _, err := channelSettings(ctx, a.channels, tx, a.policy, rc.ChannelID)
	if err != nil {
		return nil, err
	}

	cand.ReferredBy[rc.ChannelID] = rc.Code
	cand.Touch()

	if !referrer.Credit(rc.ChannelID, cand.ID) {
		a.log.Warn().Int64("referrer_id", rc.UserID).Int64("candidate_id", cand.ID).Msg("candidate already credited")
		return nil, nil
	}
	referrer.Touch()
	if err := a.users.Save(ctx, tx, referrer); err != nil {
		return nil, err
	}
	count := referrer.CreditCount(rc.ChannelID)
	return &Attribution{
		ReferrerID:    rc.UserID,
		CandidateID:   cand.ID,
		ChannelID:     rc.ChannelID,
		Code:          rc.Code,
		Count:         count,
		Target:        target,
		TargetReached: count == target,
	}, nil
}

func outcomeOf(att *Attribution) Outcome {
	if att == nil {
		return OutcomeDuplicate
	}
	return OutcomeCredited
}

func (a *attributionUC) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(a.log, "AttributionUC.CleanupExpired")()

	removed, remaining := 0, 0
	err := a.tm.WithTx(ctx, repository.TxOptions{Tables: []string{repository.TablePending}}, func(ctx context.Context, tx repository.Tx) error {
		all, err := a.pending.List(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range all {
			if !p.Expired(now, a.policy.PendingTTL) {
				remaining++
				continue
			}
			if err := a.pending.Delete(ctx, tx, p.CandidateID, p.ChannelID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.SetPendingJoins(remaining)
	if removed > 0 {
		a.log.Info().Int("removed", removed).Int("remaining", remaining).Msg("expired pending joins removed")
	}
	return removed, nil
}
