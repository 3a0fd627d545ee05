package worker

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	"github.com/erezos/flappyjet-backend-sub000/internal/db"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func insertGame(t *testing.T, gdb *gorm.DB, id, subject string, score any, at time.Time) {
	t.Helper()
	payload := datatypes.JSONMap{}
	if score != nil {
		payload["score"] = score
	}
	require.NoError(t, db.InsertEvents(context.Background(), gdb, []db.Event{{
		ID:         id,
		EventType:  "game_ended",
		SubjectID:  subject,
		Payload:    payload,
		ReceivedAt: at,
	}}))
}

func TestLeaderboardWorkerEndToEnd(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	mem := cache.NewMemory()
	provider := cache.NewProvider(mem)
	now := time.Now().UTC()

	// Lower score arrives after the higher one; best must still be 50.
	insertGame(t, gdb, "e1", "u1", 50, now.Add(-2*time.Minute))
	insertGame(t, gdb, "e2", "u1", 30, now.Add(-time.Minute))

	// A stale cached leaderboard must be invalidated by the fold.
	require.NoError(t, mem.Set(ctx, cache.KeyLeaderboard+"top:50:0", []byte("stale"), time.Hour))

	w := &Leaderboard{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, w.RunOnce(ctx))

	var entry db.LeaderboardEntry
	require.NoError(t, gdb.First(&entry, "subject_id = ?", "u1").Error)
	require.Equal(t, int64(50), entry.BestScore)
	require.Equal(t, int64(2), entry.GamesPlayed)

	_, err := mem.Get(ctx, cache.KeyLeaderboard+"top:50:0")
	require.ErrorIs(t, err, cache.ErrMiss)

	// A second run without new events finds nothing and changes nothing.
	require.NoError(t, w.RunOnce(ctx))
	require.NoError(t, gdb.First(&entry, "subject_id = ?", "u1").Error)
	require.Equal(t, int64(50), entry.BestScore)
	require.Equal(t, int64(2), entry.GamesPlayed)

	counts, err := db.CountEventStates(ctx, gdb)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts.Processed)
	require.Equal(t, int64(0), counts.Unprocessed)
}

func TestLeaderboardWorkerIsolatesBadEvent(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	provider := cache.NewProvider(cache.NewMemory())
	now := time.Now().UTC()

	insertGame(t, gdb, "bad", "u1", nil, now.Add(-2*time.Minute))
	insertGame(t, gdb, "good", "u2", 40, now.Add(-time.Minute))

	w := &Leaderboard{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 2}

	// The malformed event never blocks the batch.
	require.NoError(t, w.RunOnce(ctx))

	var entry db.LeaderboardEntry
	require.NoError(t, gdb.First(&entry, "subject_id = ?", "u2").Error)
	require.Equal(t, int64(40), entry.BestScore)

	var ev db.Event
	require.NoError(t, gdb.First(&ev, "id = ?", "bad").Error)
	require.Equal(t, 1, ev.Attempts)
	require.NotEmpty(t, ev.LastError)
	require.Nil(t, ev.FailedAt)

	// Second failure crosses the ceiling: parked permanently.
	require.NoError(t, w.RunOnce(ctx))
	require.NoError(t, gdb.First(&ev, "id = ?", "bad").Error)
	require.Equal(t, 2, ev.Attempts)
	require.NotNil(t, ev.FailedAt)

	// Parked events are excluded from future scans.
	require.NoError(t, w.RunOnce(ctx))
	require.NoError(t, gdb.First(&ev, "id = ?", "bad").Error)
	require.Equal(t, 2, ev.Attempts)

	counts, err := db.CountEventStates(ctx, gdb)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Failed)
}

func TestTournamentWorkerDedup(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	provider := cache.NewProvider(cache.NewMemory())
	now := time.Now().UTC()

	require.NoError(t, gdb.Create(&db.Tournament{
		ID: "t1", Name: "Weekly Cup", Active: true,
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
	}).Error)

	insertGame(t, gdb, "e1", "u1", 50, now.Add(-30*time.Minute))
	insertGame(t, gdb, "e2", "u1", 30, now.Add(-20*time.Minute))

	w := &Tournament{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, w.RunOnce(ctx))

	var standing db.TournamentStanding
	require.NoError(t, gdb.First(&standing, "tournament_id = ? AND subject_id = ?", "t1", "u1").Error)
	require.Equal(t, int64(50), standing.BestScore)
	require.Equal(t, int64(2), standing.GamesPlayed)

	// Re-running over the same events without new arrivals changes
	// nothing: the ledger marks them folded.
	require.NoError(t, w.RunOnce(ctx))
	require.NoError(t, gdb.First(&standing, "tournament_id = ? AND subject_id = ?", "t1", "u1").Error)
	require.Equal(t, int64(50), standing.BestScore)
	require.Equal(t, int64(2), standing.GamesPlayed)
}

func TestTournamentFoldsEventsClaimedByLeaderboard(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	provider := cache.NewProvider(cache.NewMemory())
	now := time.Now().UTC()

	require.NoError(t, gdb.Create(&db.Tournament{
		ID: "t1", Name: "Cup", Active: true,
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
	}).Error)
	insertGame(t, gdb, "e1", "u1", 25, now.Add(-10*time.Minute))

	// The leaderboard worker claims the event first.
	lb := &Leaderboard{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, lb.RunOnce(ctx))

	// The tournament still folds it: processed_at belongs to the unscoped
	// domain, tournament completion lives in the ledger.
	tw := &Tournament{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, tw.RunOnce(ctx))

	var standing db.TournamentStanding
	require.NoError(t, gdb.First(&standing, "tournament_id = ? AND subject_id = ?", "t1", "u1").Error)
	require.Equal(t, int64(25), standing.BestScore)
}

func TestTournamentIgnoresOutOfWindowEvents(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	provider := cache.NewProvider(cache.NewMemory())
	now := time.Now().UTC()

	require.NoError(t, gdb.Create(&db.Tournament{
		ID: "t1", Name: "Cup", Active: true,
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
	}).Error)
	insertGame(t, gdb, "early", "u1", 99, now.Add(-2*time.Hour))

	w := &Tournament{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, w.RunOnce(ctx))

	var count int64
	require.NoError(t, gdb.Model(&db.TournamentStanding{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestKPIWorkerAdditiveSums(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	provider := cache.NewProvider(cache.NewMemory())
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertEvents(ctx, gdb, []db.Event{
		{ID: "c1", EventType: "coins_earned", SubjectID: "u1", Payload: datatypes.JSONMap{"amount": 10}, ReceivedAt: day},
		{ID: "c2", EventType: "coins_earned", SubjectID: "u2", Payload: datatypes.JSONMap{"amount": 5}, ReceivedAt: day.Add(time.Hour)},
		{ID: "c3", EventType: "coins_spent", SubjectID: "u1", Payload: datatypes.JSONMap{"amount": 3}, ReceivedAt: day.Add(2 * time.Hour)},
		{ID: "s1", EventType: "session_start", SubjectID: "u1", Payload: datatypes.JSONMap{}, ReceivedAt: day},
		{ID: "next-day", EventType: "session_start", SubjectID: "u1", Payload: datatypes.JSONMap{}, ReceivedAt: day.Add(24 * time.Hour)},
	}))

	w := &KPI{DB: gdb, Cache: provider, BatchSize: 100, MaxAttempts: 5}
	require.NoError(t, w.RunOnce(ctx))

	var row db.DailyKPI
	require.NoError(t, gdb.First(&row, "day = ?", "2026-03-01").Error)
	require.Equal(t, int64(1), row.Sessions)
	require.Equal(t, int64(15), row.CoinsEarned)
	require.Equal(t, int64(3), row.CoinsSpent)

	// Fresh struct per day lookup so the first row's primary key does not
	// leak into the next query's conditions.
	var nextDay db.DailyKPI
	require.NoError(t, gdb.First(&nextDay, "day = ?", "2026-03-02").Error)
	require.Equal(t, int64(1), nextDay.Sessions)

	// Idempotent across re-runs: everything is marked processed.
	require.NoError(t, w.RunOnce(ctx))
	var rerun db.DailyKPI
	require.NoError(t, gdb.First(&rerun, "day = ?", "2026-03-01").Error)
	require.Equal(t, int64(15), rerun.CoinsEarned)
}
