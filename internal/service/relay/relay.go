// Package relay forwards chat messages between the two members of a match.
// Deliveries carry the sender's display name only, never the platform
// identity, and message bodies are not persisted beyond the recipient's
// delivery outbox.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
)

const maxMessageLen = 4000

// Rejection reasons surfaced to callers.
var (
	ErrMatchClosed    = &svcErr.Error{Kind: svcErr.KindNotFound, Msg: "match_closed"}
	ErrNotParticipant = &svcErr.Error{Kind: svcErr.KindPermission, Msg: "not_participant"}
)

// Delivery is the payload placed in the counterpart's outbox.
type Delivery struct {
	ID       string    `json:"id"`
	MatchID  uint64    `json:"match_id"`
	FromName string    `json:"from_name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

type Service struct {
	appCtx   *app.AppContext
	matches  *repository.MatchRepository
	profiles *repository.ProfileRepository
}

func New(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		matches:  repository.NewMatchRepository(appCtx.DB),
		profiles: repository.NewProfileRepository(appCtx.DB),
	}
}

// Relay validates that fromUser may speak on matchID and forwards content to
// the counterpart's outbox.
//
// Rejections: ErrNotParticipant when fromUser is not a member of the match,
// ErrMatchClosed when the match is unmatched or its chat session is closed.
func (s *Service) Relay(ctx context.Context, fromUser, matchID uint64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return svcErr.Validation("message is empty")
	}
	if len(content) > maxMessageLen {
		return svcErr.Validation("message too long (max %d characters)", maxMessageLen)
	}

	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return svcErr.FromStorage(err)
	}
	if !m.Includes(fromUser) {
		return ErrNotParticipant
	}
	if m.Status != db.MatchActive {
		return ErrMatchClosed
	}

	session, err := s.matches.GetSession(ctx, matchID)
	if err != nil {
		return svcErr.FromStorage(err)
	}
	if session == nil || session.Status != db.SessionOpen {
		return ErrMatchClosed
	}

	sender, err := s.profiles.Get(ctx, fromUser)
	if err != nil {
		return svcErr.FromStorage(err)
	}

	d := Delivery{
		ID:       uuid.NewString(),
		MatchID:  matchID,
		FromName: sender.Name,
		Text:     content,
		SentAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return svcErr.Internal(err)
	}

	to := m.Counterpart(fromUser)
	if err := svcErr.Retry(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		if err := s.appCtx.RedisCache.PushOutbox(ctx, to, payload, s.appCtx.Cfg.App.OutboxTTL); err != nil {
			return svcErr.Transient(err)
		}
		return nil
	}); err != nil {
		return err
	}

	s.appCtx.Logger.Debug("message relayed", "match_id", matchID, "from", fromUser)
	return nil
}
