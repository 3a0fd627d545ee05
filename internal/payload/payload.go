// Package payload extracts typed values from the opaque event payloads at
// the aggregation boundary. Ingestion deliberately never validates these
// fields, so every accessor here can fail; a failure is an aggregation
// error for that one event, not a reason to reject the batch it came in.
package payload

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Event types the aggregators claim. New types can be ingested at any time;
// they simply have no claimant until a worker learns about them.
const (
	TypeGameEnded    = "game_ended"
	TypeCoinsEarned  = "coins_earned"
	TypeCoinsSpent   = "coins_spent"
	TypeSessionStart = "session_start"
)

// Score reads the score field of a game_ended payload.
func Score(p datatypes.JSONMap) (int64, error) {
	return integer(p, "score")
}

// Amount reads the amount field of a coins_earned/coins_spent payload.
func Amount(p datatypes.JSONMap) (int64, error) {
	return integer(p, "amount")
}

func integer(p datatypes.JSONMap, field string) (int64, error) {
	v, ok := p[field]
	if !ok {
		return 0, fmt.Errorf("payload: missing %q", field)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("payload: %q is not numeric: %w", field, err)
			}
			return int64(f), nil
		}
		return i, nil
	default:
		return 0, fmt.Errorf("payload: %q has non-numeric type %T", field, v)
	}
}
