package worker

import (
	"github.com/alitto/pond/v2"

	"github.com/erezos/flappyjet-backend-sub000/internal/payload"
)

// Dispatcher is the fire-and-forget hand-off between ingestion and
// aggregation. The request path submits to a bounded pool and returns;
// the task kicks the claiming workers so fresh events fold ahead of the
// next tick. A saturated pool drops the kick, the periodic schedule being
// the correctness backstop.
type Dispatcher struct {
	sched *Scheduler
	pool  pond.Pool
}

func NewDispatcher(sched *Scheduler) *Dispatcher {
	return &Dispatcher{
		sched: sched,
		pool: pond.NewPool(4,
			pond.WithQueueSize(256),
			pond.WithNonBlocking(true),
		),
	}
}

// EventsPersisted signals that events of the given types were just stored.
func (d *Dispatcher) EventsPersisted(eventTypes []string) {
	types := make([]string, len(eventTypes))
	copy(types, eventTypes)

	d.pool.Submit(func() {
		kicked := make(map[string]bool, 2)
		for _, t := range types {
			for _, jobName := range claimants(t) {
				if !kicked[jobName] {
					kicked[jobName] = true
					d.sched.Kick(jobName)
				}
			}
		}
	})
}

// Stop drains pending hand-offs.
func (d *Dispatcher) Stop() {
	d.pool.StopAndWait()
}

// claimants maps an event type to the workers that fold it.
func claimants(eventType string) []string {
	switch eventType {
	case payload.TypeGameEnded:
		return []string{"leaderboard", "tournament"}
	case payload.TypeCoinsEarned, payload.TypeCoinsSpent, payload.TypeSessionStart:
		return []string{"kpi"}
	default:
		return nil
	}
}
