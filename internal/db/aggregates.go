package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// All aggregate writes in this file are idempotent upserts on the row's
// natural key. Best-score fields merge with MAX semantics (never regress)
// and counters merge additively, so concurrent or re-run workers cannot
// corrupt state; the database's row-level atomicity is the only
// concurrency primitive involved.

// MergeLeaderboard folds one game result into the global leaderboard.
func MergeLeaderboard(ctx context.Context, gdb *gorm.DB, subjectID string, score int64, at time.Time) error {
	row := LeaderboardEntry{
		SubjectID:   subjectID,
		BestScore:   score,
		GamesPlayed: 1,
		UpdatedAt:   at,
	}
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"best_score":   gorm.Expr("CASE WHEN excluded.best_score > leaderboard_entries.best_score THEN excluded.best_score ELSE leaderboard_entries.best_score END"),
			"games_played": gorm.Expr("leaderboard_entries.games_played + excluded.games_played"),
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
}

// MergeStanding folds one game result into a tournament's standings.
func MergeStanding(ctx context.Context, gdb *gorm.DB, tournamentID, subjectID string, score int64, at time.Time) error {
	row := TournamentStanding{
		TournamentID: tournamentID,
		SubjectID:    subjectID,
		BestScore:    score,
		GamesPlayed:  1,
		UpdatedAt:    at,
	}
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tournament_id"}, {Name: "subject_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"best_score":   gorm.Expr("CASE WHEN excluded.best_score > tournament_standings.best_score THEN excluded.best_score ELSE tournament_standings.best_score END"),
			"games_played": gorm.Expr("tournament_standings.games_played + excluded.games_played"),
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
}

// MergeDailyKPI adds the deltas into the day's rollup row.
func MergeDailyKPI(ctx context.Context, gdb *gorm.DB, day string, sessions, coinsEarned, coinsSpent int64, at time.Time) error {
	row := DailyKPI{
		Day:         day,
		Sessions:    sessions,
		CoinsEarned: coinsEarned,
		CoinsSpent:  coinsSpent,
		UpdatedAt:   at,
	}
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"sessions":     gorm.Expr("daily_kpis.sessions + excluded.sessions"),
			"coins_earned": gorm.Expr("daily_kpis.coins_earned + excluded.coins_earned"),
			"coins_spent":  gorm.Expr("daily_kpis.coins_spent + excluded.coins_spent"),
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
}

// RecordLedger writes the (tournament, event) dedup entry. Returns false
// when the pair already existed, meaning the event's contribution is
// already reflected in the standings and must be skipped.
func RecordLedger(ctx context.Context, gdb *gorm.DB, tournamentID, eventID string, at time.Time) (bool, error) {
	row := TournamentLedger{
		TournamentID: tournamentID,
		EventID:      eventID,
		ProcessedAt:  at,
	}
	res := gdb.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TopLeaderboard returns leaderboard rows ordered by best score.
func TopLeaderboard(ctx context.Context, gdb *gorm.DB, limit, offset int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := gdb.WithContext(ctx).
		Order("best_score DESC, subject_id").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// Standings returns a tournament's standings ordered by best score.
func Standings(ctx context.Context, gdb *gorm.DB, tournamentID string, limit int) ([]TournamentStanding, error) {
	var rows []TournamentStanding
	err := gdb.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("best_score DESC, subject_id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// KPIRange returns daily rollups from fromDay (inclusive, YYYY-MM-DD) onward.
func KPIRange(ctx context.Context, gdb *gorm.DB, fromDay string) ([]DailyKPI, error) {
	var rows []DailyKPI
	err := gdb.WithContext(ctx).
		Where("day >= ?", fromDay).
		Order("day").
		Find(&rows).Error
	return rows, err
}

// ActiveTournaments returns tournaments whose window contains now and that
// are flagged active.
func ActiveTournaments(ctx context.Context, gdb *gorm.DB, now time.Time) ([]Tournament, error) {
	var rows []Tournament
	err := gdb.WithContext(ctx).
		Where("active = ?", true).
		Where("starts_at <= ? AND ends_at > ?", now, now).
		Order("starts_at").
		Find(&rows).Error
	return rows, err
}

// SubjectActivity loads (subject, received_at) pairs since cutoff for the
// retention view. Cohort grouping happens in Go so the SQL stays portable
// across the production and test drivers.
func SubjectActivity(ctx context.Context, gdb *gorm.DB, cutoff time.Time) ([]Event, error) {
	var events []Event
	err := gdb.WithContext(ctx).
		Select("subject_id", "received_at").
		Where("received_at >= ?", cutoff).
		Order("received_at").
		Find(&events).Error
	return events, err
}
