package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbimatch/matchmaker/internal/db"
)

// ProfileRepository provides data access methods for the Profile model.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new repository bound to the given DB connection.
func NewProfileRepository(database *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: database}
}

// Save inserts or updates the profile row for p.UserID. Onboarding commits one
// field at a time through this method, so partial rows are expected.
func (r *ProfileRepository) Save(ctx context.Context, p *db.Profile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(p).Error
}

// Get returns the profile for userID regardless of status.
// Soft-deleted rows are filtered by GetVisible instead.
func (r *ProfileRepository) Get(ctx context.Context, userID uint64) (*db.Profile, error) {
	var p db.Profile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetVisible returns the profile only if it has not been soft-deleted.
func (r *ProfileRepository) GetVisible(ctx context.Context, userID uint64) (*db.Profile, error) {
	var p db.Profile
	err := r.db.WithContext(ctx).
		First(&p, "user_id = ? AND status <> ?", userID, db.ProfileDeleted).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetStatus flips the visibility flag (active/paused/deleted).
func (r *ProfileRepository) SetStatus(ctx context.Context, userID uint64, status db.ProfileStatus) error {
	res := r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Where("user_id = ?", userID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDelete hides the profile while preserving referential integrity of
// historical matches. Rows are never hard-deleted.
func (r *ProfileRepository) SoftDelete(ctx context.Context, userID uint64) error {
	return r.SetStatus(ctx, userID, db.ProfileDeleted)
}

// FindCandidate returns the next eligible candidate profile for the requester,
// or gorm.ErrRecordNotFound when the eligible set is empty.
//
// Eligibility, applied in SQL:
//   - not the requester, active status only
//   - no existing decision from the requester (no re-showing)
//   - no block in either direction
//   - opposite gender; optionally the same stated relationship preference
//   - optionally restricted to the requester's target universities
//
// Ordering is ascending creation time then user id: deterministic but fair,
// because decided-on profiles drop out of the set.
func (r *ProfileRepository) FindCandidate(
	ctx context.Context,
	requesterID uint64,
	wantGender db.Gender,
	samePreference db.Preference,
	targetUnis []string,
) (*db.Profile, error) {
	q := r.db.WithContext(ctx).
		Table("profiles p").
		Where("p.user_id <> ?", requesterID).
		Where("p.status = ?", db.ProfileActive).
		Where("p.gender = ?", wantGender).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM decisions d
				WHERE d.actor_id = ? AND d.target_id = p.user_id
			)`, requesterID).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM block_records b
				WHERE (b.actor_id = ? AND b.target_id = p.user_id)
				   OR (b.actor_id = p.user_id AND b.target_id = ?)
			)`, requesterID, requesterID).
		Order("p.created_at ASC, p.user_id ASC").
		Limit(1)

	if samePreference != "" {
		q = q.Where("p.preference = ?", samePreference)
	}
	if len(targetUnis) > 0 {
		q = q.Where("p.university IN ?", targetUnis)
	}

	var p db.Profile
	if err := q.Take(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
