package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbimatch/matchmaker/internal/db"
)

// SafetyRepository provides data access methods for blocks and reports.
type SafetyRepository struct {
	db *gorm.DB
}

// NewSafetyRepository creates a new repository bound to the given DB connection.
func NewSafetyRepository(database *gorm.DB) *SafetyRepository {
	return &SafetyRepository{db: database}
}

// WithTx returns a repository bound to the given transaction.
func (r *SafetyRepository) WithTx(tx *gorm.DB) *SafetyRepository {
	return &SafetyRepository{db: tx}
}

// CreateBlock records a unidirectional block. Re-blocking is a no-op.
func (r *SafetyRepository) CreateBlock(ctx context.Context, actorID, targetID uint64, reason string) error {
	b := db.BlockRecord{ActorID: actorID, TargetID: targetID, Reason: reason}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
			DoNothing: true,
		}).
		Create(&b).Error
}

// HasBlockBetween reports whether a block exists in either direction.
func (r *SafetyRepository) HasBlockBetween(ctx context.Context, a, b uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.BlockRecord{}).
		Where("(actor_id = ? AND target_id = ?) OR (actor_id = ? AND target_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

// CreateReport records a report. Reports are purely additive and reviewed by
// a human outside this system.
func (r *SafetyRepository) CreateReport(ctx context.Context, actorID, targetID uint64, reason string) error {
	rep := db.ReportRecord{ActorID: actorID, TargetID: targetID, Reason: reason}
	return r.db.WithContext(ctx).Create(&rep).Error
}
