package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/erezos/flappyjet-backend-sub000/internal/config"
	dbpkg "github.com/erezos/flappyjet-backend-sub000/internal/db"
	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
	"github.com/erezos/flappyjet-backend-sub000/internal/worker"
)

var (
	eventsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "events_ingested_total",
		Help:      "Events persisted to the event store, by type.",
	}, []string{"event_type"})
	eventsTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "ingest_truncated_events_total",
		Help:      "Events dropped because the batch exceeded the size ceiling.",
	})
	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "ingest_dropped_events_total",
		Help:      "Events dropped for a malformed shape (missing type or subject).",
	})
)

// IngestEvent is the wire shape of one behavioral event. Payload stays
// opaque here; nothing beyond event_type and subject_id presence is
// checked at ingestion.
type IngestEvent struct {
	EventType       string         `json:"event_type"`
	SubjectID       string         `json:"subject_id"`
	Payload         map[string]any `json:"payload"`
	ClientTimestamp *int64         `json:"client_timestamp,omitempty"`
}

// IngestHandler accepts a single event object or an array of them,
// persists the batch, and acknowledges before any aggregation work
// happens. The endpoint is fire-and-forget from the client's point of
// view: every internal failure is logged and still answered with 200, so
// clients never retry on transient server trouble. dispatch may be nil.
func IngestHandler(gdb *gorm.DB, cfg *config.Config, dispatch *worker.Dispatcher) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		events := parseIngestBody(ctx.PostBody())

		if len(events) > cfg.IngestBatchMax {
			eventsTruncatedTotal.Add(float64(len(events) - cfg.IngestBatchMax))
			logger.Warn("ingest batch truncated",
				zap.Int("received", len(events)),
				zap.Int("ceiling", cfg.IngestBatchMax))
			events = events[:cfg.IngestBatchMax]
		}

		now := time.Now().UTC()
		records := make([]dbpkg.Event, 0, len(events))
		types := make([]string, 0, len(events))
		for _, ev := range events {
			if ev.EventType == "" || ev.SubjectID == "" {
				eventsDroppedTotal.Inc()
				continue
			}
			records = append(records, dbpkg.Event{
				ID:              uuid.NewString(),
				EventType:       ev.EventType,
				SubjectID:       ev.SubjectID,
				Payload:         datatypes.JSONMap(ev.Payload),
				ReceivedAt:      now,
				ClientTimestamp: ev.ClientTimestamp,
			})
			types = append(types, ev.EventType)
		}

		count := 0
		if len(records) > 0 {
			if err := dbpkg.InsertEvents(ctx, gdb, records); err != nil {
				logger.Error(err, zap.Int("batch", len(records)))
			} else {
				count = len(records)
				for _, t := range types {
					eventsIngestedTotal.WithLabelValues(t).Inc()
				}
				if dispatch != nil {
					dispatch.EventsPersisted(types)
				}
			}
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"accepted":true,"count":` + strconv.Itoa(count) + `}`)
	}
}

// parseIngestBody tolerates both accepted body shapes and drops only the
// entries that fail to decode, never the whole batch.
func parseIngestBody(body []byte) []IngestEvent {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] != '[' {
		var ev IngestEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			eventsDroppedTotal.Inc()
			return nil
		}
		return []IngestEvent{ev}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		eventsDroppedTotal.Inc()
		return nil
	}
	events := make([]IngestEvent, 0, len(raw))
	for _, r := range raw {
		var ev IngestEvent
		if err := json.Unmarshal(r, &ev); err != nil {
			eventsDroppedTotal.Inc()
			continue
		}
		events = append(events, ev)
	}
	return events
}
