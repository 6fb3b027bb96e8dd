package swipe

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

// Result classifies the outcome of recording a swipe decision.
type Result string

const (
	ResultNoMatch      Result = "no_match"
	ResultMatchCreated Result = "match_created"
	ResultCrushPending Result = "secret_crush_pending"
)

// Outcome carries the result and, for match_created, the match itself.
type Outcome struct {
	Result Result
	Match  *db.Match
}

// Announcer is notified once per newly created match.
type Announcer interface {
	MatchCreated(ctx context.Context, m *db.Match) error
}

// Service records swipe decisions and detects mutual matches.
//
// The mutual check-and-create runs inside a transaction while holding a lock
// keyed by the unordered (min id, max id) pair, so concurrent swipes from both
// users yield exactly one match. The same lock instance guards the safety
// service's block-and-unmatch.
type Service struct {
	appCtx    *app.AppContext
	decisions *repository.DecisionRepository
	matches   *repository.MatchRepository
	profiles  *repository.ProfileRepository
	safety    *repository.SafetyRepository
	announcer Announcer
	pairs     *kmutex.KMutex[[2]uint64]
}

func New(appCtx *app.AppContext, announcer Announcer, pairs *kmutex.KMutex[[2]uint64]) *Service {
	return &Service{
		appCtx:    appCtx,
		decisions: repository.NewDecisionRepository(appCtx.DB),
		matches:   repository.NewMatchRepository(appCtx.DB),
		profiles:  repository.NewProfileRepository(appCtx.DB),
		safety:    repository.NewSafetyRepository(appCtx.DB),
		announcer: announcer,
		pairs:     pairs,
	}
}

// Record upserts the actor's decision on the target and reports whether it
// completed a match.
//
// Semantics:
//   - pass never matches; a later changed verdict overwrites it.
//   - like matches when the target already likes (or secret-crushes) back.
//   - secret_crush behaves like a withheld like: nothing fires until the
//     target independently likes back. When both sides secret-crushed, the
//     match is flagged so both are told the crush was mutual.
//
// Re-recording a decision that already produced an active match returns
// match_created with the existing match and announces nothing.
func (s *Service) Record(ctx context.Context, actorID, targetID uint64, verdict db.Verdict) (Outcome, error) {
	if actorID == targetID {
		return Outcome{}, svcErr.Validation("cannot decide on yourself")
	}
	switch verdict {
	case db.VerdictLike, db.VerdictPass, db.VerdictSecretCrush:
	default:
		return Outcome{}, svcErr.Validation("unknown decision %q", verdict)
	}

	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	if _, err := s.profiles.GetVisible(ctx, targetID); err != nil {
		return Outcome{}, svcErr.FromStorage(err)
	}

	unlock := s.pairs.Lock(pairKey(actorID, targetID))
	defer unlock()

	var (
		outcome Outcome
		created *db.Match
		prior   *db.Decision
	)

	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dRepo := s.decisions.WithTx(tx)
		mRepo := s.matches.WithTx(tx)

		// The safety ledger gates every decision: a blocked pair must never
		// match. Checked inside the transaction while holding the pair lock,
		// so a concurrent block either lands before this check or waits for
		// the commit and unmatches afterwards.
		blocked, err := s.safety.WithTx(tx).HasBlockBetween(ctx, actorID, targetID)
		if err != nil {
			return err
		}
		if blocked {
			// indistinguishable from a vanished profile on purpose
			return svcErr.NotFound("no longer available")
		}

		prior, err = dRepo.Get(ctx, actorID, targetID)
		if err != nil {
			return err
		}

		if err := dRepo.Upsert(ctx, actorID, targetID, verdict); err != nil {
			return err
		}

		if verdict == db.VerdictPass {
			outcome = Outcome{Result: ResultNoMatch}
			return nil
		}

		reverse, err := dRepo.Get(ctx, targetID, actorID)
		if err != nil {
			return err
		}
		if reverse == nil || !reverse.Verdict.Likes() {
			if verdict == db.VerdictSecretCrush {
				outcome = Outcome{Result: ResultCrushPending}
			} else {
				outcome = Outcome{Result: ResultNoMatch}
			}
			return nil
		}

		// Mutual interest. Creating twice for the same active pair would
		// violate pair uniqueness, so an existing match short-circuits.
		existing, err := mRepo.FindActiveByPair(ctx, actorID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = Outcome{Result: ResultMatchCreated, Match: existing}
			return nil
		}

		mutualCrush := verdict == db.VerdictSecretCrush && reverse.Verdict == db.VerdictSecretCrush
		m, err := mRepo.Create(ctx, actorID, targetID, mutualCrush)
		if err != nil {
			return err
		}
		created = m
		outcome = Outcome{Result: ResultMatchCreated, Match: m}
		return nil
	})
	if err != nil {
		return Outcome{}, svcErr.FromStorage(err)
	}

	s.adjustLikeCount(ctx, targetID, prior, verdict)

	if created != nil {
		// enqueue failures are transient by nature (Redis connectivity), so
		// classify them as such or Retry would give up after one attempt
		if err := svcErr.Retry(ctx, 100*time.Millisecond, func(ctx context.Context) error {
			if err := s.announcer.MatchCreated(ctx, created); err != nil {
				return svcErr.Transient(err)
			}
			return nil
		}); err != nil {
			s.appCtx.Logger.Error("failed to announce match", "match_id", created.ID, "err", err)
		}
	}

	return outcome, nil
}

// adjustLikeCount keeps the Redis received-like counter in step with verdict
// changes. Best effort: the DB count is authoritative on cache miss.
func (s *Service) adjustLikeCount(ctx context.Context, targetID uint64, prior *db.Decision, verdict db.Verdict) {
	wasLike := prior != nil && prior.Verdict.Likes()
	isLike := verdict.Likes()

	key := s.appCtx.RedisCache.KeyForLikeCount(targetID)
	switch {
	case isLike && !wasLike:
		_, _ = s.appCtx.RedisCache.Incr(ctx, key)
	case !isLike && wasLike:
		_, _ = s.appCtx.RedisCache.Decr(ctx, key)
	default:
		return
	}
	_ = s.appCtx.RedisCache.Client.Expire(ctx, key, time.Hour).Err()
}

func pairKey(a, b uint64) [2]uint64 {
	lo, hi := db.NormalizePair(a, b)
	return [2]uint64{lo, hi}
}
