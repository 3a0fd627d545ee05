package db

import (
	"time"

	"gorm.io/datatypes"
)

// Event is a single behavioral fact reported by the game client. The table
// is append-only: rows are created once by ingestion and only the
// processing-state columns are ever mutated afterwards, by aggregator
// workers. The payload is opaque at this layer; typed extraction happens
// at the aggregation boundary (internal/payload).
type Event struct {
	ID string `gorm:"primaryKey;size:36"`

	EventType string `gorm:"index;not null"`
	SubjectID string `gorm:"index;not null"`

	// Payload holds the event-type-specific fields (score, amount, ...)
	// without schema changes when new event types appear.
	Payload datatypes.JSONMap `gorm:"type:json"`

	ReceivedAt time.Time `gorm:"index;not null"`

	// ClientTimestamp is the client's own clock at emit time, in unix
	// milliseconds. Informational only; aggregation windows use ReceivedAt.
	ClientTimestamp *int64

	// ProcessedAt is set once the event's unscoped claimant has folded it.
	// Scoped (tournament) folding is tracked in TournamentLedger instead,
	// since one event can belong to several concurrently active scopes.
	ProcessedAt *time.Time `gorm:"index"`

	// Attempts counts failed fold attempts. At the configured ceiling the
	// event is marked permanently failed via FailedAt and excluded from
	// future scans.
	Attempts  int `gorm:"not null;default:0"`
	LastError string
	FailedAt  *time.Time `gorm:"index"`
}

// Tournament defines an aggregation scope: game_ended events received
// inside [StartsAt, EndsAt) while the tournament is active are folded into
// its standings.
type Tournament struct {
	ID       string    `gorm:"primaryKey;size:36"`
	Name     string    `gorm:"not null"`
	StartsAt time.Time `gorm:"not null"`
	EndsAt   time.Time `gorm:"not null"`
	Active   bool      `gorm:"index;not null"`
}

// TournamentLedger records that an event has already been folded into a
// tournament's standings. The composite primary key is what makes
// tournament aggregation idempotent across re-runs and overlapping
// batches: an existing row means "skip", never "reprocess".
type TournamentLedger struct {
	TournamentID string    `gorm:"primaryKey;size:36"`
	EventID      string    `gorm:"primaryKey;size:36"`
	ProcessedAt  time.Time `gorm:"not null"`
}

// LeaderboardEntry is the global per-player aggregate. BestScore only ever
// moves up (max-merge); GamesPlayed is additive. Both are derivable by
// replaying unprocessed events, so the row is never the system of record.
type LeaderboardEntry struct {
	SubjectID   string    `gorm:"primaryKey"`
	BestScore   int64     `gorm:"not null"`
	GamesPlayed int64     `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TournamentStanding is the per-tournament counterpart of LeaderboardEntry.
type TournamentStanding struct {
	TournamentID string    `gorm:"primaryKey;size:36"`
	SubjectID    string    `gorm:"primaryKey"`
	BestScore    int64     `gorm:"not null"`
	GamesPlayed  int64     `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// DailyKPI is one row per UTC day of additive rollups filled by the KPI
// worker. Day is formatted YYYY-MM-DD.
type DailyKPI struct {
	Day         string    `gorm:"primaryKey;size:10"`
	Sessions    int64     `gorm:"not null"`
	CoinsEarned int64     `gorm:"not null"`
	CoinsSpent  int64     `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
