package cache

// Cache key prefixes shared by the serving endpoints (which read under
// them) and the aggregator workers (which invalidate them after rewriting
// the backing aggregate).
const (
	KeyLeaderboard = "agg:leaderboard:"
	KeyTournament  = "agg:tournament:"
	KeyKPI         = "agg:kpi:"
	KeyRetention   = "agg:retention:"
	KeyTournaments = "agg:tournaments:"
)
