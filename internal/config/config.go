package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	// RedisAddr is the address of the cache backend. When empty the
	// service runs with an in-process cache instead.
	RedisAddr string

	// IngestBatchMax is the ceiling on events accepted per ingest call.
	// Larger batches are truncated, not rejected.
	IngestBatchMax int

	// WorkerBatchSize bounds how many events a single aggregator run scans.
	WorkerBatchSize int

	// MaxAttempts is the per-event fold retry ceiling. An event that fails
	// this many times is marked permanently failed and excluded from scans.
	MaxAttempts int

	LeaderboardInterval time.Duration
	TournamentInterval  time.Duration
	KPIInterval         time.Duration

	// QueryTimeout bounds query functions invoked through the cache-aside layer.
	QueryTimeout time.Duration

	DevLog bool
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	return &Config{
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		RedisAddr:           os.Getenv("APP_REDIS_ADDR"),
		IngestBatchMax:      getint("APP_INGEST_BATCH_MAX", 100),
		WorkerBatchSize:     getint("APP_WORKER_BATCH_SIZE", 500),
		MaxAttempts:         getint("APP_MAX_ATTEMPTS", 5),
		LeaderboardInterval: getdur("APP_LEADERBOARD_INTERVAL", 30*time.Second),
		TournamentInterval:  getdur("APP_TOURNAMENT_INTERVAL", 15*time.Second),
		KPIInterval:         getdur("APP_KPI_INTERVAL", 5*time.Minute),
		QueryTimeout:        getdur("APP_QUERY_TIMEOUT", 10*time.Second),
		DevLog:              os.Getenv("APP_DEV_LOG") == "true",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
