// Package notify delivers match notifications. Creation of a match enqueues a
// delivery task on a Redis-backed queue; the worker opens the chat session and
// places a payload in each member's pending queue, where the conversation
// engine picks it up at the next safe transition point.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/gbimatch/matchmaker/internal/config"
	"github.com/gbimatch/matchmaker/internal/db"
)

// TaskMatchCreated is the queue task type for match announcements.
const TaskMatchCreated = "notify:match_created"

// queueName separates notification traffic from the default queue.
const queueName = "notify"

// Kind distinguishes a plain match from a mutual secret crush.
type Kind string

const (
	KindMatch       Kind = "match"
	KindMutualCrush Kind = "mutual_crush"
)

// Notification is the payload delivered to each member of a new match. It
// contains the counterpart's card and the match id as the entry point into
// the chat relay.
type Notification struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	MatchID     uint64         `json:"match_id"`
	Counterpart db.ProfileCard `json:"counterpart"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Text renders the notification line shown ahead of the counterpart card.
func (n Notification) Text() string {
	if n.Kind == KindMutualCrush {
		return fmt.Sprintf("Secret crush match! %s has a crush on you too. Why not start a conversation?", n.Counterpart.Name)
	}
	return fmt.Sprintf("You have a new match with %s! They liked you back.", n.Counterpart.Name)
}

type taskPayload struct {
	MatchID uint64 `json:"match_id"`
}

// Notifier enqueues match announcements.
type Notifier struct {
	client *asynq.Client
	log    *slog.Logger
}

// RedisOpt builds the asynq connection options from app config.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func NewNotifier(opt asynq.RedisClientOpt, log *slog.Logger) *Notifier {
	return &Notifier{client: asynq.NewClient(opt), log: log}
}

func (n *Notifier) Close() error { return n.client.Close() }

// MatchCreated enqueues the announcement for a newly created match. The task
// id is derived from the match id, so a match is announced at most once even
// if the caller retries the enqueue.
func (n *Notifier) MatchCreated(ctx context.Context, m *db.Match) error {
	payload, err := json.Marshal(taskPayload{MatchID: m.ID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskMatchCreated, payload)
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("match-created-%d", m.ID)),
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	n.log.Debug("match announcement enqueued", "match_id", m.ID)
	return nil
}

// PendingStore is where per-user notification payloads wait for the
// conversation engine.
type PendingStore interface {
	PushPending(ctx context.Context, userID uint64, payload []byte, ttl time.Duration) error
}

// MatchStore is the slice of match storage the handler needs.
type MatchStore interface {
	Get(ctx context.Context, matchID uint64) (*db.Match, error)
	OpenSession(ctx context.Context, matchID uint64) error
}

// ProfileStore is the slice of profile storage the handler needs.
type ProfileStore interface {
	Get(ctx context.Context, userID uint64) (*db.Profile, error)
}

// Handler processes match announcement tasks on the worker side.
type Handler struct {
	matches  MatchStore
	profiles ProfileStore
	pending  PendingStore
	ttl      time.Duration
	log      *slog.Logger
}

func NewHandler(matches MatchStore, profiles ProfileStore, pending PendingStore, ttl time.Duration, log *slog.Logger) *Handler {
	return &Handler{matches: matches, profiles: profiles, pending: pending, ttl: ttl, log: log}
}

// Register attaches the handler to the worker mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskMatchCreated, h.HandleMatchCreated)
}

// HandleMatchCreated opens the match's chat session and pushes a notification
// to both members. A match that went inactive before delivery is dropped:
// re-activation after unmatch always goes through a fresh match row with its
// own announcement.
func (h *Handler) HandleMatchCreated(ctx context.Context, t *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed payload: %w: %w", err, asynq.SkipRetry)
	}

	m, err := h.matches.Get(ctx, p.MatchID)
	if err != nil {
		return fmt.Errorf("load match %d: %w", p.MatchID, err)
	}
	if m.Status != db.MatchActive {
		h.log.Warn("dropping announcement for inactive match", "match_id", m.ID)
		return nil
	}

	if err := h.matches.OpenSession(ctx, m.ID); err != nil {
		return fmt.Errorf("open chat session for match %d: %w", m.ID, err)
	}

	kind := KindMatch
	if m.MutualCrush {
		kind = KindMutualCrush
	}

	for _, userID := range []uint64{m.UserAID, m.UserBID} {
		counterpart, err := h.profiles.Get(ctx, m.Counterpart(userID))
		if err != nil {
			return fmt.Errorf("load counterpart profile: %w", err)
		}

		n := Notification{
			ID:          uuid.NewString(),
			Kind:        kind,
			MatchID:     m.ID,
			Counterpart: counterpart.Card(),
			CreatedAt:   time.Now().UTC(),
		}
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := h.pending.PushPending(ctx, userID, payload, h.ttl); err != nil {
			return fmt.Errorf("queue notification for user %d: %w", userID, err)
		}
	}

	h.log.Info("match announced", "match_id", m.ID, "kind", kind)
	return nil
}

// NewWorker builds the asynq server consuming the notification queue.
func NewWorker(opt asynq.RedisClientOpt, cfg *config.Config, log *slog.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{queueName: 2, "default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("notification task failed", "type", task.Type(), "err", err)
		}),
	})
}
