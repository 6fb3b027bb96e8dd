// Package safety owns block, report and unmatch. Blocking is the only
// operation that mutates match state here, and it does so atomically with the
// block write so the selector and relay never observe a half-applied block.
package safety

import (
	"strings"

	"context"

	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

const maxReasonLen = 500

type Service struct {
	appCtx  *app.AppContext
	matches *repository.MatchRepository
	safety  *repository.SafetyRepository
	pairs   *kmutex.KMutex[[2]uint64]
}

// New creates the safety service. The pair lock must be the same instance the
// swipe processor uses: both guard the active-match pair invariant.
func New(appCtx *app.AppContext, pairs *kmutex.KMutex[[2]uint64]) *Service {
	return &Service{
		appCtx:  appCtx,
		matches: repository.NewMatchRepository(appCtx.DB),
		safety:  repository.NewSafetyRepository(appCtx.DB),
		pairs:   pairs,
	}
}

// Block records a block by actor on target and, in the same transaction,
// unmatches any active match between the pair and closes its chat session.
func (s *Service) Block(ctx context.Context, actorID, targetID uint64, reason string) error {
	if actorID == targetID {
		return svcErr.Validation("cannot block yourself")
	}
	if len(reason) > maxReasonLen {
		return svcErr.Validation("reason too long (max %d characters)", maxReasonLen)
	}

	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	lo, hi := db.NormalizePair(actorID, targetID)
	unlock := s.pairs.Lock([2]uint64{lo, hi})
	defer unlock()

	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.safety.WithTx(tx).CreateBlock(ctx, actorID, targetID, reason); err != nil {
			return err
		}

		mRepo := s.matches.WithTx(tx)
		m, err := mRepo.FindActiveByPair(ctx, actorID, targetID)
		if err != nil {
			return err
		}
		if m != nil {
			if err := mRepo.Unmatch(ctx, m.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return svcErr.FromStorage(err)
	}

	s.appCtx.Logger.Info("user blocked", "actor", actorID, "target", targetID)
	return nil
}

// Report records a report for human review. Purely additive: match state is
// untouched.
func (s *Service) Report(ctx context.Context, actorID, targetID uint64, reason string) error {
	if actorID == targetID {
		return svcErr.Validation("cannot report yourself")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return svcErr.Validation("reason too long (max %d characters)", maxReasonLen)
	}

	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	if err := s.safety.CreateReport(ctx, actorID, targetID, reason); err != nil {
		return svcErr.FromStorage(err)
	}

	s.appCtx.Logger.Info("user reported", "actor", actorID, "target", targetID)
	return nil
}

// Unmatch transitions the match to unmatched and closes its chat session,
// without a block record: the pair may re-match through fresh mutual likes.
// Unmatching an already-unmatched match is treated as success.
func (s *Service) Unmatch(ctx context.Context, actorID, matchID uint64) error {
	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return svcErr.FromStorage(err)
	}
	if !m.Includes(actorID) {
		// Generic denial: no detail about the other party leaks.
		return svcErr.Permission("not allowed")
	}

	unlock := s.pairs.Lock([2]uint64{m.UserAID, m.UserBID})
	defer unlock()

	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.matches.WithTx(tx).Unmatch(ctx, matchID)
	})
	if err != nil {
		return svcErr.FromStorage(err)
	}

	s.appCtx.Logger.Info("unmatched", "actor", actorID, "match_id", matchID)
	return nil
}
