package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
)

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		logger.Info("request",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", ctx.RemoteAddr().String()))
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data map[string]any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// queryInt reads an integer query arg, clamped to [min, max], falling back
// to def when absent or unparsable.
func queryInt(ctx *fasthttp.RequestCtx, name string, def, min, max int) int {
	s := string(ctx.QueryArgs().Peek(name))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// viewBody shapes every serving response: the rows plus the freshness
// marker from the cache envelope, never the live database clock.
func viewBody(rows any, computedAt time.Time) map[string]any {
	return map[string]any{
		"rows":         rows,
		"last_updated": computedAt.UTC().Format(time.RFC3339),
	}
}
