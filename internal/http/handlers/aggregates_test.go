package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	dbpkg "github.com/erezos/flappyjet-backend-sub000/internal/db"
	"github.com/erezos/flappyjet-backend-sub000/internal/worker"
)

// unreachableBackend simulates a cache whose connection is down.
type unreachableBackend struct{}

func (unreachableBackend) Name() string { return "down" }

func (unreachableBackend) Ready(context.Context) bool { return false }

func (unreachableBackend) Get(context.Context, string) ([]byte, error) {
	return nil, cache.ErrMiss
}

func (unreachableBackend) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (unreachableBackend) DeletePrefix(context.Context, string) error {
	return nil
}

func seedLeaderboard(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, dbpkg.MergeLeaderboard(context.Background(), gdb, "u1", 50, now))
	require.NoError(t, dbpkg.MergeLeaderboard(context.Background(), gdb, "u1", 30, now))
	require.NoError(t, dbpkg.MergeLeaderboard(context.Background(), gdb, "u2", 70, now))
}

func TestLeaderboardColdAndWarmAreIdentical(t *testing.T) {
	gdb := openTestDB(t)
	seedLeaderboard(t, gdb)
	handler := Leaderboard(gdb, cache.NewProvider(cache.NewMemory()), testConfig())

	cold := serve(t, handler, "GET", "/v1/aggregates/leaderboard?limit=10", nil)
	require.Equal(t, fasthttp.StatusOK, cold.Response.StatusCode())

	warm := serve(t, handler, "GET", "/v1/aggregates/leaderboard?limit=10", nil)
	require.Equal(t, fasthttp.StatusOK, warm.Response.StatusCode())

	// Cache transparency: same data state, byte-identical body, including
	// last_updated (which reflects the cached computation, not the clock).
	require.Equal(t, cold.Response.Body(), warm.Response.Body())
}

func TestLeaderboardFailOpen(t *testing.T) {
	gdb := openTestDB(t)
	seedLeaderboard(t, gdb)
	handler := Leaderboard(gdb, cache.NewProvider(unreachableBackend{}), testConfig())

	ctx := serve(t, handler, "GET", "/v1/aggregates/leaderboard", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var body struct {
		Rows        []dbpkg.LeaderboardEntry `json:"rows"`
		LastUpdated string                   `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	require.Len(t, body.Rows, 2)
	require.Equal(t, "u2", body.Rows[0].SubjectID)
	require.Equal(t, int64(70), body.Rows[0].BestScore)
	require.NotEmpty(t, body.LastUpdated)
}

func TestTournamentStandingsRequireID(t *testing.T) {
	gdb := openTestDB(t)
	handler := TournamentStandings(gdb, cache.NewProvider(cache.NewMemory()), testConfig())

	ctx := serve(t, handler, "GET", "/v1/aggregates/tournament", nil)
	require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestTournamentStandingsServed(t *testing.T) {
	gdb := openTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, dbpkg.MergeStanding(context.Background(), gdb, "t1", "u1", 40, now))
	handler := TournamentStandings(gdb, cache.NewProvider(cache.NewMemory()), testConfig())

	ctx := serve(t, handler, "GET", "/v1/aggregates/tournament?tournament_id=t1", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var body struct {
		Rows []dbpkg.TournamentStanding `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, int64(40), body.Rows[0].BestScore)
}

func TestDailyKPIsWindowClamp(t *testing.T) {
	gdb := openTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, dbpkg.MergeDailyKPI(context.Background(), gdb, now.Format("2006-01-02"), 2, 10, 3, now))
	handler := DailyKPIs(gdb, cache.NewProvider(cache.NewMemory()), testConfig())

	// days beyond the 90-day ceiling is clamped, not rejected.
	ctx := serve(t, handler, "GET", "/v1/aggregates/kpi-daily?days=5000", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var body struct {
		Rows []dbpkg.DailyKPI `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, int64(2), body.Rows[0].Sessions)
}

func TestRetentionCohorts(t *testing.T) {
	gdb := openTestDB(t)
	// Midday anchor keeps every offset below on a predictable calendar day.
	base := time.Now().UTC().AddDate(0, 0, -20).Truncate(24 * time.Hour).Add(12 * time.Hour)
	events := []dbpkg.Event{
		// u1: first seen day 0, returns day 1 and day 8.
		{ID: "a1", EventType: "session_start", SubjectID: "u1", ReceivedAt: base},
		{ID: "a2", EventType: "session_start", SubjectID: "u1", ReceivedAt: base.Add(25 * time.Hour)},
		{ID: "a3", EventType: "session_start", SubjectID: "u1", ReceivedAt: base.Add(8 * 24 * time.Hour)},
		// u2: seen only once.
		{ID: "b1", EventType: "session_start", SubjectID: "u2", ReceivedAt: base.Add(time.Hour)},
	}
	require.NoError(t, dbpkg.InsertEvents(context.Background(), gdb, events))

	handler := Retention(gdb, cache.NewProvider(cache.NewMemory()), testConfig())
	ctx := serve(t, handler, "GET", "/v1/aggregates/retention?days=30", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var body struct {
		Rows []RetentionRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	require.Len(t, body.Rows, 1)
	row := body.Rows[0]
	require.Equal(t, base.Format("2006-01-02"), row.Cohort)
	require.Equal(t, int64(2), row.Subjects)
	require.Equal(t, int64(1), row.RetainedD1)
	require.Equal(t, int64(1), row.RetainedD7)
}

func TestStatsEndpoint(t *testing.T) {
	gdb := openTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, dbpkg.InsertEvents(context.Background(), gdb, []dbpkg.Event{
		{ID: "e1", EventType: "game_ended", SubjectID: "u1", ReceivedAt: now},
	}))

	sched := worker.NewScheduler()
	handler := Stats(gdb, cache.NewProvider(cache.NewMemory()), sched)

	ctx := serve(t, handler, "GET", "/v1/stats", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var body struct {
		Events dbpkg.EventStateCounts `json:"events"`
		Cache  string                 `json:"cache"`
		Jobs   []worker.JobStatus     `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	require.Equal(t, int64(1), body.Events.Unprocessed)
	require.Equal(t, "memory:ready", body.Cache)
	require.Empty(t, body.Jobs)
}
