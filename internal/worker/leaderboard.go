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

// Leaderboard folds game_ended events into the global leaderboard:
// max-merge on best score, additive on games played. It is the unscoped
// claimant of game_ended, so it is the worker that stamps processed_at.
type Leaderboard struct {
	DB          *gorm.DB
	Cache       *cache.Provider
	BatchSize   int
	MaxAttempts int
}

func (w *Leaderboard) Name() string { return "leaderboard" }

func (w *Leaderboard) RunOnce(ctx context.Context) error {
	events, err := db.UnprocessedByTypes(ctx, w.DB, []string{payload.TypeGameEnded}, w.MaxAttempts, w.BatchSize)
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

		// Merge and mark atomically so a refold can never double the
		// games-played counter.
		err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := db.MergeLeaderboard(ctx, tx, ev.SubjectID, score, now); err != nil {
				return err
			}
			return db.MarkProcessed(ctx, tx, []string{ev.ID}, now)
		})
		if err != nil {
			recordFailure(ctx, w.DB, w.Name(), ev, err, w.MaxAttempts)
			continue
		}
		folded++
	}

	if folded > 0 {
		foldedTotal.WithLabelValues(w.Name()).Add(float64(folded))
		if err := w.Cache.Invalidate(ctx, cache.KeyLeaderboard); err != nil {
			logger.Warn("leaderboard cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}
