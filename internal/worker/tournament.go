package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	"github.com/erezos/flappyjet-backend-sub000/internal/db"
	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
	"github.com/erezos/flappyjet-backend-sub000/internal/payload"
)

// Tournament folds game_ended events into the standings of every
// currently active tournament. It is scoped: the same event can belong to
// several tournaments plus the global leaderboard, so completion is
// recorded in the dedup ledger per (tournament, event) instead of on the
// event row.
type Tournament struct {
	DB          *gorm.DB
	Cache       *cache.Provider
	BatchSize   int
	MaxAttempts int
}

func (w *Tournament) Name() string { return "tournament" }

func (w *Tournament) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	tournaments, err := db.ActiveTournaments(ctx, w.DB, now)
	if err != nil {
		return err
	}

	for i := range tournaments {
		if err := w.runScope(ctx, &tournaments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Tournament) runScope(ctx context.Context, t *db.Tournament) error {
	events, err := db.TournamentCandidates(ctx, w.DB, t, payload.TypeGameEnded, w.MaxAttempts, w.BatchSize)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	folded := 0
	for i := range events {
		ev := &events[i]

		score, err := payload.Score(ev.Payload)
		if err != nil {
			recordFailure(ctx, w.DB, w.Name(), ev, err, w.MaxAttempts)
			continue
		}

		// The ledger insert doubles as the idempotence gate: inside the
		// transaction a lost race on (tournament, event) skips the merge
		// entirely, so a contribution can never land twice.
		err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inserted, err := db.RecordLedger(ctx, tx, t.ID, ev.ID, now)
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}
			return db.MergeStanding(ctx, tx, t.ID, ev.SubjectID, score, now)
		})
		if err != nil {
			recordFailure(ctx, w.DB, w.Name(), ev, err, w.MaxAttempts)
			continue
		}
		folded++
	}

	if folded > 0 {
		foldedTotal.WithLabelValues(w.Name()).Add(float64(folded))
		if err := w.Cache.Invalidate(ctx, cache.KeyTournament+t.ID); err != nil {
			logger.Warn("tournament cache invalidation failed",
				zap.String("tournament_id", t.ID), zap.Error(err))
		}
	}
	return nil
}
