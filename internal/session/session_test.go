package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/cache"
	"github.com/gbimatch/matchmaker/internal/config"
	"github.com/gbimatch/matchmaker/internal/db"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/service/notify"
	"github.com/gbimatch/matchmaker/internal/service/relay"
	"github.com/gbimatch/matchmaker/internal/service/safety"
	"github.com/gbimatch/matchmaker/internal/service/selector"
	"github.com/gbimatch/matchmaker/internal/service/swipe"
	"github.com/gbimatch/matchmaker/internal/session"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

type nopAnnouncer struct{}

func (nopAnnouncer) MatchCreated(context.Context, *db.Match) error { return nil }

func setupEngine(t *testing.T) (*session.Engine, *app.AppContext, *miniredis.Miniredis) {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbase, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	require.NoError(t, err)
	sqlDB, err := dbase.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(dbase))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()
	cfg.App.Universities = []string{"AAU", "AASTU"}

	appCtx := app.New(cfg, dbase, cache.NewRedisCache(cfg),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	pairs := kmutex.New[[2]uint64]()
	engine := session.NewEngine(
		appCtx,
		selector.New(appCtx),
		swipe.New(appCtx, nopAnnouncer{}, pairs),
		safety.New(appCtx, pairs),
		relay.New(appCtx),
	)
	return engine, appCtx, mr
}

// onboardingAnswers in the order the engine asks: name, age, gender, photo,
// university, target universities, hobbies, bio, preference.
var onboardingAnswers = []string{
	"Abel Bekele",
	"22",
	"male",
	"photo-ref-1",
	"AAU",
	"All",
	"reading, football",
	"Coffee lover, always up for a debate.",
	"long_term",
}

func runOnboarding(t *testing.T, e *session.Engine, userID uint64, answers []string) session.Output {
	t.Helper()
	ctx := context.Background()
	out, err := e.Handle(ctx, userID, session.Action{Type: session.ActionStartOnboarding})
	require.NoError(t, err)
	for _, answer := range answers {
		out, err = e.Handle(ctx, userID, session.Action{Type: session.ActionSubmitField, Text: answer})
		require.NoError(t, err)
	}
	return out
}

func activeProfile(t *testing.T, e *session.Engine, userID uint64, name, gender string) {
	t.Helper()
	answers := make([]string, len(onboardingAnswers))
	copy(answers, onboardingAnswers)
	answers[0] = name
	answers[2] = gender
	runOnboarding(t, e, userID, answers)
}

func TestOnboardingCollectsEveryFieldThenActivates(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionStartOnboarding})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "name")

	out = runOnboarding(t, engine, 1, onboardingAnswers[:0]) // no answers yet
	for i, answer := range onboardingAnswers {
		out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: answer})
		require.NoError(t, err, "answer %d", i)
	}
	assert.Contains(t, out.Prompt, "complete")

	p, err := repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.ProfileActive, p.Status)
	assert.Equal(t, "Abel Bekele", p.Name)
	assert.Equal(t, 22, p.Age)
	assert.Equal(t, db.PrefLongTerm, p.Preference)
	assert.True(t, p.TargetsAll())
}

func TestInvalidInputBecomesRePrompt(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)

	_, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionStartOnboarding})
	require.NoError(t, err)
	_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: "Abel Bekele"})
	require.NoError(t, err)

	// age out of range: no error, just a corrective re-prompt
	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: "17"})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "between 18 and 30")

	// the step did not advance; a valid age is accepted now
	_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: "22"})
	require.NoError(t, err)

	p, err := repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 22, p.Age)
	assert.Equal(t, "", string(p.Gender), "gender still unanswered")
}

func TestResumeAfterSessionStateLoss(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, mr := setupEngine(t)

	_, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionStartOnboarding})
	require.NoError(t, err)
	for _, answer := range onboardingAnswers[:4] { // through photo
		_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: answer})
		require.NoError(t, err)
	}

	// conversation state evaporates; committed fields survive in the DB
	mr.FlushAll()

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: "AAU"})
	require.NoError(t, err)
	assert.NotContains(t, out.Prompt, "name", "must not restart from the beginning")

	p, err := repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "AAU", p.University)
	assert.Equal(t, "Abel Bekele", p.Name)
}

func TestNotificationsDeferredUntilSafePoint(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)

	_, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionStartOnboarding})
	require.NoError(t, err)

	payload, err := json.Marshal(notify.Notification{
		ID: "n1", Kind: notify.KindMatch, MatchID: 7,
		Counterpart: db.ProfileCard{Name: "Sara"},
	})
	require.NoError(t, err)
	require.NoError(t, appCtx.RedisCache.PushPending(ctx, 1, payload, time.Hour))

	// mid-onboarding answers never carry notifications
	var out session.Output
	for _, answer := range onboardingAnswers[:len(onboardingAnswers)-1] {
		out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: answer})
		require.NoError(t, err)
		assert.Empty(t, out.Notifications)
	}

	// the final answer lands in idle, a safe point
	out, err = engine.Handle(ctx, 1, session.Action{
		Type: session.ActionSubmitField, Text: onboardingAnswers[len(onboardingAnswers)-1],
	})
	require.NoError(t, err)
	require.Len(t, out.Notifications, 1)
	assert.Equal(t, "Sara", out.Notifications[0].Counterpart.Name)
}

func TestSwipingFlowThroughEngine(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := setupEngine(t)
	activeProfile(t, engine, 1, "Abel Bekele", "male")
	activeProfile(t, engine, 2, "Sara Alemu", "female")

	// Sara likes Abel first
	out, err := engine.Handle(ctx, 2, session.Action{Type: session.ActionBeginSwiping})
	require.NoError(t, err)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, "Abel Bekele", out.Candidate.Name)

	out, err = engine.Handle(ctx, 2, session.Action{Type: session.ActionSwipe, Decision: db.VerdictLike})
	require.NoError(t, err)
	assert.NotContains(t, out.Prompt, "It's a match")

	// Abel likes back: mutual
	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionBeginSwiping})
	require.NoError(t, err)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, "Sara Alemu", out.Candidate.Name)

	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSwipe, Decision: db.VerdictLike})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "It's a match")

	// both sides exhausted their candidate pools now
	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionBeginSwiping})
	require.NoError(t, err)
	assert.Nil(t, out.Candidate)
	assert.Contains(t, out.Prompt, "No more candidates")
}

func TestEditProfileField(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)
	activeProfile(t, engine, 1, "Abel Bekele", "male")

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionEditProfile, Field: session.FieldBio})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "bio")

	out, err = engine.Handle(ctx, 1, session.Action{
		Type: session.ActionSubmitField, Text: "New bio, now with more ambition.",
	})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "updated")

	p, err := repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "New bio, now with more ambition.", p.Bio)
}

func TestChatBlockConfirmFlow(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)
	activeProfile(t, engine, 1, "Abel Bekele", "male")
	activeProfile(t, engine, 2, "Sara Alemu", "female")

	matches := repository.NewMatchRepository(appCtx.DB)
	m, err := matches.Create(ctx, 1, 2, false)
	require.NoError(t, err)
	require.NoError(t, matches.OpenSession(ctx, m.ID))

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionOpenChat, MatchID: m.ID})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "Sara Alemu")

	_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSendMessage, Text: "hi!"})
	require.NoError(t, err)
	delivered, err := appCtx.RedisCache.DrainOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	// block from inside the chat targets the counterpart, after confirmation
	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionBlock})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "Confirm")

	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionConfirm})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "Blocked")

	got, err := matches.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, db.MatchUnmatched, got.Status)

	// and the closed chat rejects further messages without erroring out
	out, err = engine.Handle(ctx, 2, session.Action{Type: session.ActionOpenChat, MatchID: m.ID})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "closed")
}

func TestCancelReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := setupEngine(t)
	activeProfile(t, engine, 1, "Abel Bekele", "male")

	_, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionEditProfile, Field: session.FieldName})
	require.NoError(t, err)

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled.", out.Prompt)

	// a stray submit afterwards does not mutate the profile
	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionSubmitField, Text: "Mallory"})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "Nothing to fill in")
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	engine, appCtx, _ := setupEngine(t)
	activeProfile(t, engine, 1, "Abel Bekele", "male")

	out, err := engine.Handle(ctx, 1, session.Action{Type: session.ActionDeleteAccount})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "Confirm")

	// backing out leaves the profile alone
	_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionCancel})
	require.NoError(t, err)
	p, err := repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.ProfileActive, p.Status)

	// confirming soft-deletes: the row survives for match history
	_, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionDeleteAccount})
	require.NoError(t, err)
	out, err = engine.Handle(ctx, 1, session.Action{Type: session.ActionConfirm})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "deleted")

	p, err = repository.NewProfileRepository(appCtx.DB).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.ProfileDeleted, p.Status)
}
