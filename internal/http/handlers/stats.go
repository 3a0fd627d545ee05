package handlers

import (
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	dbpkg "github.com/erezos/flappyjet-backend-sub000/internal/db"
	"github.com/erezos/flappyjet-backend-sub000/internal/worker"
)

// Stats exposes processing-state counts, cache backend connectivity, and
// the scheduler's job history. Monitoring surface only; nothing here feeds
// back into business logic.
func Stats(gdb *gorm.DB, p *cache.Provider, sched *worker.Scheduler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		counts, err := dbpkg.CountEventStates(ctx, gdb)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to count events")
			return
		}
		jsonResponse(ctx, map[string]any{
			"events": counts,
			"cache":  p.State(ctx),
			"jobs":   sched.Statuses(),
		})
	}
}
