package handlers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	"github.com/erezos/flappyjet-backend-sub000/internal/config"
	dbpkg "github.com/erezos/flappyjet-backend-sub000/internal/db"
)

// Per-view TTLs: sub-minute for live feeds, minutes for dashboards, hours
// for the slow-changing retention view.
const (
	leaderboardTTL = 30 * time.Second
	tournamentTTL  = 15 * time.Second
	kpiTTL         = 5 * time.Minute
	retentionTTL   = 6 * time.Hour
	tournamentsTTL = time.Minute

	maxWindowDays = 90
)

// Leaderboard serves the global leaderboard through the cache-aside layer.
func Leaderboard(gdb *gorm.DB, p *cache.Provider, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		limit := queryInt(ctx, "limit", 50, 1, 100)
		offset := queryInt(ctx, "offset", 0, 0, 10000)

		key := fmt.Sprintf("%stop:%d:%d", cache.KeyLeaderboard, limit, offset)
		res, err := cache.Fetch(ctx, p, key, leaderboardTTL, cfg.QueryTimeout,
			func(qctx context.Context) ([]dbpkg.LeaderboardEntry, error) {
				return dbpkg.TopLeaderboard(qctx, gdb, limit, offset)
			})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query leaderboard")
			return
		}
		jsonResponse(ctx, viewBody(res.Data, res.ComputedAt))
	}
}

// TournamentStandings serves one tournament's standings.
func TournamentStandings(gdb *gorm.DB, p *cache.Provider, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tournamentID := string(ctx.QueryArgs().Peek("tournament_id"))
		if tournamentID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "tournament_id is required")
			return
		}
		limit := queryInt(ctx, "limit", 50, 1, 100)

		key := fmt.Sprintf("%s%s:%d", cache.KeyTournament, tournamentID, limit)
		res, err := cache.Fetch(ctx, p, key, tournamentTTL, cfg.QueryTimeout,
			func(qctx context.Context) ([]dbpkg.TournamentStanding, error) {
				return dbpkg.Standings(qctx, gdb, tournamentID, limit)
			})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query standings")
			return
		}
		jsonResponse(ctx, viewBody(res.Data, res.ComputedAt))
	}
}

// DailyKPIs serves the per-day rollups for the last N days.
func DailyKPIs(gdb *gorm.DB, p *cache.Provider, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		days := queryInt(ctx, "days", 30, 1, maxWindowDays)
		fromDay := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

		key := fmt.Sprintf("%sdaily:%d", cache.KeyKPI, days)
		res, err := cache.Fetch(ctx, p, key, kpiTTL, cfg.QueryTimeout,
			func(qctx context.Context) ([]dbpkg.DailyKPI, error) {
				return dbpkg.KPIRange(qctx, gdb, fromDay)
			})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query daily KPIs")
			return
		}
		jsonResponse(ctx, viewBody(res.Data, res.ComputedAt))
	}
}

// RetentionRow is one first-seen cohort with day-1/day-7 return counts.
type RetentionRow struct {
	Cohort     string `json:"cohort"`
	Subjects   int64  `json:"subjects"`
	RetainedD1 int64  `json:"retained_d1"`
	RetainedD7 int64  `json:"retained_d7"`
}

// Retention serves first-seen cohorts computed straight from the event
// store: this data has no rolled-up table, which is why the view gets the
// longest TTL.
func Retention(gdb *gorm.DB, p *cache.Provider, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		days := queryInt(ctx, "days", 30, 1, maxWindowDays)
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		key := fmt.Sprintf("%scohorts:%d", cache.KeyRetention, days)
		res, err := cache.Fetch(ctx, p, key, retentionTTL, cfg.QueryTimeout,
			func(qctx context.Context) ([]RetentionRow, error) {
				activity, err := dbpkg.SubjectActivity(qctx, gdb, cutoff)
				if err != nil {
					return nil, err
				}
				return cohortRows(activity), nil
			})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query retention")
			return
		}
		jsonResponse(ctx, viewBody(res.Data, res.ComputedAt))
	}
}

// ActiveTournaments lists the currently running tournaments.
func ActiveTournaments(gdb *gorm.DB, p *cache.Provider, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := cache.KeyTournaments + "active"
		res, err := cache.Fetch(ctx, p, key, tournamentsTTL, cfg.QueryTimeout,
			func(qctx context.Context) ([]dbpkg.Tournament, error) {
				return dbpkg.ActiveTournaments(qctx, gdb, time.Now().UTC())
			})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query tournaments")
			return
		}
		jsonResponse(ctx, viewBody(res.Data, res.ComputedAt))
	}
}

// cohortRows folds raw (subject, received_at) activity into per-cohort
// counts of subjects seen again at least 1 and 7 days after first contact.
func cohortRows(activity []dbpkg.Event) []RetentionRow {
	type span struct {
		first time.Time
		last  time.Time
	}
	spans := make(map[string]*span)
	for i := range activity {
		ev := &activity[i]
		sp, ok := spans[ev.SubjectID]
		if !ok {
			spans[ev.SubjectID] = &span{first: ev.ReceivedAt, last: ev.ReceivedAt}
			continue
		}
		if ev.ReceivedAt.Before(sp.first) {
			sp.first = ev.ReceivedAt
		}
		if ev.ReceivedAt.After(sp.last) {
			sp.last = ev.ReceivedAt
		}
	}

	byCohort := make(map[string]*RetentionRow)
	for _, sp := range spans {
		cohort := sp.first.UTC().Format("2006-01-02")
		row, ok := byCohort[cohort]
		if !ok {
			row = &RetentionRow{Cohort: cohort}
			byCohort[cohort] = row
		}
		row.Subjects++
		alive := sp.last.Sub(sp.first)
		if alive >= 24*time.Hour {
			row.RetainedD1++
		}
		if alive >= 7*24*time.Hour {
			row.RetainedD7++
		}
	}

	rows := make([]RetentionRow, 0, len(byCohort))
	for _, row := range byCohort {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cohort < rows[j].Cohort })
	return rows
}
