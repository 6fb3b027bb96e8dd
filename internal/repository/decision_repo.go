package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbimatch/matchmaker/internal/db"
)

// DecisionRepository provides data access methods for the Decision model.
// It encapsulates all queries related to like/pass/secret-crush verdicts.
type DecisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository creates a new repository bound to the given DB connection.
func NewDecisionRepository(database *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: database}
}

// WithTx returns a repository bound to the given transaction.
func (r *DecisionRepository) WithTx(tx *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: tx}
}

// Upsert inserts or updates the decision made by actor on target.
//
// The composite (actor_id, target_id) PK guarantees a single row per pair:
// a changed verdict overwrites, an identical verdict is a no-op rewrite.
func (r *DecisionRepository) Upsert(ctx context.Context, actorID, targetID uint64, verdict db.Verdict) error {
	decision := db.Decision{
		ActorID:  actorID,
		TargetID: targetID,
		Verdict:  verdict,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"verdict", "updated_at"}),
		}).
		Create(&decision).Error
}

// Get returns the decision actor has recorded on target, or nil when none exists.
func (r *DecisionRepository) Get(ctx context.Context, actorID, targetID uint64) (*db.Decision, error) {
	var d db.Decision
	err := r.db.WithContext(ctx).
		First(&d, "actor_id = ? AND target_id = ?", actorID, targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CountLikers returns how many users like the given target.
//
// Behavior:
//   - Counts like and secret_crush verdicts toward the target.
//   - Excludes users the target explicitly passed on.
//   - Used in conjunction with the Redis counter (DB is fallback).
func (r *DecisionRepository) CountLikers(ctx context.Context, targetID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("decisions d").
		Where("d.target_id = ? AND d.verdict IN ?", targetID,
			[]db.Verdict{db.VerdictLike, db.VerdictSecretCrush}).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM decisions d2
				WHERE d2.actor_id = ?
				  AND d2.target_id = d.actor_id
				  AND d2.verdict = ?
			)`, targetID, db.VerdictPass).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
