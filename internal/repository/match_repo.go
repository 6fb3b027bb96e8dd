package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbimatch/matchmaker/internal/db"
	"github.com/gbimatch/matchmaker/internal/utils/pagination"
)

// MatchRepository provides data access methods for Match and its ChatSession.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// WithTx returns a repository bound to the given transaction.
func (r *MatchRepository) WithTx(tx *gorm.DB) *MatchRepository {
	return &MatchRepository{db: tx}
}

// Get returns the match by id.
func (r *MatchRepository) Get(ctx context.Context, matchID uint64) (*db.Match, error) {
	var m db.Match
	if err := r.db.WithContext(ctx).First(&m, matchID).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindActiveByPair returns the active match for the unordered pair, or nil.
func (r *MatchRepository) FindActiveByPair(ctx context.Context, a, b uint64) (*db.Match, error) {
	lo, hi := db.NormalizePair(a, b)
	var m db.Match
	err := r.db.WithContext(ctx).
		First(&m, "user_a_id = ? AND user_b_id = ? AND status = ?", lo, hi, db.MatchActive).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts an active match for the unordered pair.
// Callers must hold the pair lock; active pair uniqueness is their invariant.
func (r *MatchRepository) Create(ctx context.Context, a, b uint64, mutualCrush bool) (*db.Match, error) {
	lo, hi := db.NormalizePair(a, b)
	m := db.Match{
		UserAID:     lo,
		UserBID:     hi,
		Status:      db.MatchActive,
		MutualCrush: mutualCrush,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Unmatch transitions the match to unmatched and closes its chat session.
// The row is never deleted (append-only history).
func (r *MatchRepository) Unmatch(ctx context.Context, matchID uint64) error {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ? AND status = ?", matchID, db.MatchActive).
		Update("status", db.MatchUnmatched)
	if res.Error != nil {
		return res.Error
	}
	return r.CloseSession(ctx, matchID)
}

// ListActiveForUser returns the user's active matches, newest first, with
// cursor-based pagination.
func (r *MatchRepository) ListActiveForUser(
	ctx context.Context,
	userID uint64,
	paginationToken *string,
	limit int,
) ([]db.Match, *string, error) {
	var matches []db.Match

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Table("matches m").
		Where("(m.user_a_id = ? OR m.user_b_id = ?) AND m.status = ?", userID, userID, db.MatchActive).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit + 1)

	// apply cursor
	if cursor.ID > 0 && cursor.CreatedUnix > 0 {
		ts := time.UnixMilli(cursor.CreatedUnix)
		query = query.Where(
			"(m.created_at < ? OR (m.created_at = ? AND m.id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&matches).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(matches) > limit {
		last := matches[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			ID:          last.ID,
			CreatedUnix: last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		matches = matches[:limit]
	}

	return matches, nextToken, nil
}

// OpenSession opens the chat session owned by the match. Idempotent: the
// unique match_id index turns repeat opens into no-ops, and a session closed
// by unmatch or block is never reopened.
func (r *MatchRepository) OpenSession(ctx context.Context, matchID uint64) error {
	s := db.ChatSession{MatchID: matchID, Status: db.SessionOpen}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoNothing: true,
		}).
		Create(&s).Error
}

// CloseSession closes the chat session owned by the match, if one exists.
func (r *MatchRepository) CloseSession(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.ChatSession{}).
		Where("match_id = ?", matchID).
		Update("status", db.SessionClosed).Error
}

// GetSession returns the chat session owned by the match, or nil when the
// match was never announced.
func (r *MatchRepository) GetSession(ctx context.Context, matchID uint64) (*db.ChatSession, error) {
	var s db.ChatSession
	err := r.db.WithContext(ctx).First(&s, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
