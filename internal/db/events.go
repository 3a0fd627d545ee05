package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// InsertEvents appends a batch of freshly received events. IDs must already
// be assigned by the caller (ingestion owns identifier creation).
func InsertEvents(ctx context.Context, gdb *gorm.DB, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return gdb.WithContext(ctx).CreateInBatches(events, 200).Error
}

// UnprocessedByTypes returns up to limit events of the given types that no
// unscoped worker has folded yet, oldest first. Permanently failed events
// and events at or past the attempt ceiling are excluded.
func UnprocessedByTypes(ctx context.Context, gdb *gorm.DB, types []string, maxAttempts, limit int) ([]Event, error) {
	var events []Event
	err := gdb.WithContext(ctx).
		Where("event_type IN ?", types).
		Where("processed_at IS NULL").
		Where("failed_at IS NULL").
		Where("attempts < ?", maxAttempts).
		Order("received_at").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// TournamentCandidates returns up to limit game events inside the
// tournament's window that are not yet recorded in its ledger. ProcessedAt
// is deliberately ignored here: it belongs to the unscoped claimant.
func TournamentCandidates(ctx context.Context, gdb *gorm.DB, t *Tournament, eventType string, maxAttempts, limit int) ([]Event, error) {
	var events []Event
	err := gdb.WithContext(ctx).
		Where("event_type = ?", eventType).
		Where("received_at >= ? AND received_at < ?", t.StartsAt, t.EndsAt).
		Where("failed_at IS NULL").
		Where("attempts < ?", maxAttempts).
		Where("NOT EXISTS (SELECT 1 FROM tournament_ledgers WHERE tournament_ledgers.tournament_id = ? AND tournament_ledgers.event_id = events.id)", t.ID).
		Order("received_at").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkProcessed stamps processed_at on the given events.
func MarkProcessed(ctx context.Context, gdb *gorm.DB, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return gdb.WithContext(ctx).Model(&Event{}).
		Where("id IN ?", ids).
		Update("processed_at", at).Error
}

// RecordFoldFailure increments the event's attempt counter and stores the
// cause. Once the counter reaches maxAttempts the event is marked
// permanently failed, which removes it from every future scan. The bump
// happens in SQL so that two workers failing on the same event at the same
// time cannot lose an increment.
func RecordFoldFailure(ctx context.Context, gdb *gorm.DB, ev *Event, cause error, maxAttempts int) error {
	return gdb.WithContext(ctx).Model(&Event{}).
		Where("id = ?", ev.ID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
			"failed_at": gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE failed_at END",
				maxAttempts, time.Now().UTC()),
		}).Error
}

// EventStateCounts summarizes the event store's processing state for the
// stats endpoint.
type EventStateCounts struct {
	Unprocessed int64 `json:"unprocessed"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
}

// CountEventStates tallies events per processing state.
func CountEventStates(ctx context.Context, gdb *gorm.DB) (EventStateCounts, error) {
	var counts EventStateCounts
	if err := gdb.WithContext(ctx).Model(&Event{}).
		Where("processed_at IS NULL AND failed_at IS NULL").
		Count(&counts.Unprocessed).Error; err != nil {
		return counts, err
	}
	if err := gdb.WithContext(ctx).Model(&Event{}).
		Where("processed_at IS NOT NULL").
		Count(&counts.Processed).Error; err != nil {
		return counts, err
	}
	if err := gdb.WithContext(ctx).Model(&Event{}).
		Where("failed_at IS NOT NULL").
		Count(&counts.Failed).Error; err != nil {
		return counts, err
	}
	return counts, nil
}
