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

// KPI folds currency and session events into per-day additive rollups. It
// is the unscoped claimant of its event types, so it stamps processed_at.
type KPI struct {
	DB          *gorm.DB
	Cache       *cache.Provider
	BatchSize   int
	MaxAttempts int
}

var kpiEventTypes = []string{
	payload.TypeCoinsEarned,
	payload.TypeCoinsSpent,
	payload.TypeSessionStart,
}

func (w *KPI) Name() string { return "kpi" }

func (w *KPI) RunOnce(ctx context.Context) error {
	events, err := db.UnprocessedByTypes(ctx, w.DB, kpiEventTypes, w.MaxAttempts, w.BatchSize)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	folded := 0
	for i := range events {
		ev := &events[i]

		var sessions, earned, spent int64
		switch ev.EventType {
		case payload.TypeSessionStart:
			sessions = 1
		case payload.TypeCoinsEarned:
			amount, err := payload.Amount(ev.Payload)
			if err != nil {
				recordFailure(ctx, w.DB, w.Name(), ev, err, w.MaxAttempts)
				continue
			}
			earned = amount
		case payload.TypeCoinsSpent:
			amount, err := payload.Amount(ev.Payload)
			if err != nil {
				recordFailure(ctx, w.DB, w.Name(), ev, err, w.MaxAttempts)
				continue
			}
			spent = amount
		}

		day := ev.ReceivedAt.UTC().Format("2006-01-02")
		err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := db.MergeDailyKPI(ctx, tx, day, sessions, earned, spent, now); err != nil {
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
		if err := w.Cache.Invalidate(ctx, cache.KeyKPI); err != nil {
			logger.Warn("kpi cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

// recordFailure isolates a single event's fold failure: bump the attempt
// counter, keep the cause for ops, and let the batch continue. The event
// either comes back on a later scan or crosses the ceiling and is parked.
func recordFailure(ctx context.Context, gdb *gorm.DB, workerName string, ev *db.Event, cause error, maxAttempts int) {
	foldFailuresTotal.WithLabelValues(workerName).Inc()

	permanent := ev.Attempts+1 >= maxAttempts
	if permanent {
		permanentFailuresTotal.WithLabelValues(workerName).Inc()
		logger.Warn("event failed permanently",
			zap.String("worker", workerName),
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
			zap.Error(cause))
	} else {
		logger.Warn("event fold failed",
			zap.String("worker", workerName),
			zap.String("event_id", ev.ID),
			zap.Int("attempts", ev.Attempts+1),
			zap.Error(cause))
	}

	if err := db.RecordFoldFailure(ctx, gdb, ev, cause, maxAttempts); err != nil {
		logger.Error(err, zap.String("event_id", ev.ID))
	}
}
