package swipe_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
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
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/service/swipe"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

// recordingAnnouncer captures announced matches for assertions.
type recordingAnnouncer struct {
	mu      sync.Mutex
	matches []*db.Match
}

func (r *recordingAnnouncer) MatchCreated(ctx context.Context, m *db.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, m)
	return nil
}

func (r *recordingAnnouncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}

// flakyAnnouncer fails the first n calls with a plain connectivity error.
type flakyAnnouncer struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyAnnouncer) MatchCreated(ctx context.Context, m *db.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("enqueue: connection refused")
	}
	return nil
}

func setupService(t *testing.T) (*swipe.Service, *recordingAnnouncer, *app.AppContext) {
	t.Helper()
	appCtx := setupAppCtx(t)
	announcer := &recordingAnnouncer{}
	return swipe.New(appCtx, announcer, kmutex.New[[2]uint64]()), announcer, appCtx
}

func setupAppCtx(t *testing.T) *app.AppContext {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbase, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := dbase.DB()
	require.NoError(t, err)
	// shared-cache sqlite serializes writers; a single connection avoids
	// spurious table-lock errors under concurrent test load
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(dbase))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	redisCache := cache.NewRedisCache(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return app.New(cfg, dbase, redisCache, logger)
}

func seedProfiles(t *testing.T, appCtx *app.AppContext, ids ...uint64) {
	t.Helper()
	profiles := repository.NewProfileRepository(appCtx.DB)
	for _, id := range ids {
		gender := db.GenderMale
		if id%2 == 0 {
			gender = db.GenderFemale
		}
		p := &db.Profile{
			UserID: id, Name: fmt.Sprintf("user%d", id), Age: 22,
			Gender: gender, Status: db.ProfileActive,
		}
		require.NoError(t, profiles.Save(context.Background(), p))
	}
}

func TestMutualLikeCreatesOneMatch(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	out, err := svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultNoMatch, out.Result)

	out, err = svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result)
	require.NotNil(t, out.Match)
	assert.False(t, out.Match.MutualCrush)

	assert.Equal(t, 1, announcer.count())
}

func TestConcurrentMutualSwipesYieldExactlyOneMatch(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)

	// several rounds with fresh pairs to shake the race out
	for round := uint64(0); round < 10; round++ {
		a, b := 100+round*2, 101+round*2
		seedProfiles(t, appCtx, a, b)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Record(ctx, a, b, db.VerdictLike)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Record(ctx, b, a, db.VerdictLike)
			assert.NoError(t, err)
		}()
		wg.Wait()

		var count int64
		require.NoError(t, appCtx.DB.Model(&db.Match{}).
			Where("user_a_id = ? AND user_b_id = ? AND status = ?", a, b, db.MatchActive).
			Count(&count).Error)
		assert.EqualValues(t, 1, count, "round %d: exactly one active match", round)
	}

	assert.Equal(t, 10, announcer.count(), "one announcement per pair")
}

func TestRepeatedIdenticalSwipeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	_, err := svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	_, err = svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)

	var decisions int64
	require.NoError(t, appCtx.DB.Model(&db.Decision{}).Count(&decisions).Error)
	assert.EqualValues(t, 1, decisions, "no duplicate decision rows")

	// counter is not double-incremented
	n, err := appCtx.RedisCache.GetLikeCount(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// mutual like after the repeats still yields a single match + announcement
	out, err := svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result)

	out, err = svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result, "re-swipe reports the existing match")
	assert.Equal(t, 1, announcer.count())
}

func TestChangedDecisionUpdates(t *testing.T) {
	ctx := context.Background()
	svc, _, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	out, err := svc.Record(ctx, 1, 2, db.VerdictPass)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultNoMatch, out.Result)

	// pass -> like must update, not be treated as immutable
	out, err = svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultNoMatch, out.Result)

	d, err := repository.NewDecisionRepository(appCtx.DB).Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, db.VerdictLike, d.Verdict)
}

func TestSecretCrushStaysPendingUntilReciprocated(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	out, err := svc.Record(ctx, 1, 2, db.VerdictSecretCrush)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultCrushPending, out.Result)
	assert.Equal(t, 0, announcer.count(), "no notification before reciprocation")

	// plain like back fires an ordinary match, not a mutual-crush one
	out, err = svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result)
	assert.False(t, out.Match.MutualCrush)
	assert.Equal(t, 1, announcer.count())
}

func TestMutualSecretCrushIsFlagged(t *testing.T) {
	ctx := context.Background()
	svc, _, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	_, err := svc.Record(ctx, 1, 2, db.VerdictSecretCrush)
	require.NoError(t, err)

	out, err := svc.Record(ctx, 2, 1, db.VerdictSecretCrush)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result)
	assert.True(t, out.Match.MutualCrush)
}

func TestSwipeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1)

	_, err := svc.Record(ctx, 1, 1, db.VerdictLike)
	assert.True(t, svcErr.IsKind(err, svcErr.KindValidation))

	_, err = svc.Record(ctx, 1, 2, db.Verdict("maybe"))
	assert.True(t, svcErr.IsKind(err, svcErr.KindValidation))

	// deciding on a missing profile
	_, err = svc.Record(ctx, 1, 99, db.VerdictLike)
	assert.True(t, svcErr.IsKind(err, svcErr.KindNotFound))
}

func TestRematchAfterUnmatchGetsNewMatchAndAnnouncement(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	_, err := svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	out, err := svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	first := out.Match.ID

	matches := repository.NewMatchRepository(appCtx.DB)
	require.NoError(t, matches.Unmatch(ctx, first))

	// fresh mutual decisions re-match the pair under a new match id
	_, err = svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	out, err = svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	assert.Equal(t, swipe.ResultMatchCreated, out.Result)
	assert.NotEqual(t, first, out.Match.ID)
	assert.Equal(t, 2, announcer.count())
}

func TestBlockedPairCannotMatchOrBeAnnounced(t *testing.T) {
	ctx := context.Background()
	svc, announcer, appCtx := setupService(t)
	seedProfiles(t, appCtx, 1, 2)

	_, err := svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)

	require.NoError(t, repository.NewSafetyRepository(appCtx.DB).CreateBlock(ctx, 2, 1, ""))

	// the block gates the swipe in both directions, regardless of who blocked
	_, err = svc.Record(ctx, 2, 1, db.VerdictLike)
	assert.True(t, svcErr.IsKind(err, svcErr.KindNotFound))
	_, err = svc.Record(ctx, 1, 2, db.VerdictLike)
	assert.True(t, svcErr.IsKind(err, svcErr.KindNotFound))

	var matches int64
	require.NoError(t, appCtx.DB.Model(&db.Match{}).Count(&matches).Error)
	assert.Zero(t, matches, "no match between a blocked pair")
	assert.Equal(t, 0, announcer.count())

	// the rejected like was never written
	d, err := repository.NewDecisionRepository(appCtx.DB).Get(ctx, 2, 1)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestAnnouncementRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	appCtx := setupAppCtx(t)
	flaky := &flakyAnnouncer{failures: 2}
	svc := swipe.New(appCtx, flaky, kmutex.New[[2]uint64]())
	seedProfiles(t, appCtx, 1, 2)

	_, err := svc.Record(ctx, 1, 2, db.VerdictLike)
	require.NoError(t, err)
	out, err := svc.Record(ctx, 2, 1, db.VerdictLike)
	require.NoError(t, err)
	require.Equal(t, swipe.ResultMatchCreated, out.Result)

	// two failed attempts, then the enqueue lands
	assert.Equal(t, 3, flaky.calls)
}
