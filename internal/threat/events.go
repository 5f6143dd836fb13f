package threat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

const (
	recentEventsKey  = "security:events:recent"
	eventIndexKey    = "security:events:index"
	eventCountersKey = "security:events:counts"

	// recentEventsCap bounds the rolling recent-events buffer; the oldest
	// entries are evicted past the cap.
	recentEventsCap = 1000
)

// EventSink receives security events for durable storage, off the critical
// path. The gorm audit trail implements it.
type EventSink interface {
	Record(ctx context.Context, event model.SecurityEvent)
}

// Recorder persists security events into the shared store: a capped recent
// list for dashboards, a time-ordered index for range queries, and per-type
// counters. Events are additionally handed to the durable sink.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
	sink   EventSink
	now    func() time.Time
	// syncWrites makes recording synchronous, for tests.
	syncWrites bool
}

// NewRecorder creates a Recorder. sink may be nil.
func NewRecorder(s store.Store, logger *slog.Logger, sink EventSink) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger.With("component", "security-events"),
		sink:   sink,
		now:    time.Now,
	}
}

// Record persists the event. Best-effort: failures are logged, never
// returned, so that event recording can sit on the request path without
// becoming a failure mode of its own.
func (r *Recorder) Record(ctx context.Context, event model.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}

	write := func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		raw, err := json.Marshal(event)
		if err != nil {
			r.logger.Error("failed to encode security event", "error", err)
			return
		}
		if err := r.store.LPush(bg, recentEventsKey, string(raw)); err != nil {
			r.logger.Warn("failed to append security event", "error", err)
			return
		}
		if err := r.store.LTrim(bg, recentEventsKey, 0, recentEventsCap-1); err != nil {
			r.logger.Warn("failed to trim security event buffer", "error", err)
		}
		if err := r.store.ZAdd(bg, eventIndexKey, store.Member{
			Score:  float64(event.Timestamp.UnixMilli()),
			Member: string(raw),
		}); err != nil {
			r.logger.Warn("failed to index security event", "error", err)
		}
		if _, err := r.store.HIncrBy(bg, eventCountersKey, string(event.Type), 1); err != nil {
			r.logger.Warn("failed to count security event", "error", err)
		}
		if r.sink != nil {
			r.sink.Record(bg, event)
		}
	}
	if r.syncWrites {
		write()
		return
	}
	go write()
}

// Alert records a high-severity operational event. Satisfies keys.AlertSink.
func (r *Recorder) Alert(ctx context.Context, event model.SecurityEvent) {
	r.Record(ctx, event)
}

// Recent returns up to n most recent events, newest first.
func (r *Recorder) Recent(ctx context.Context, n int64) ([]model.SecurityEvent, error) {
	if n <= 0 || n > recentEventsCap {
		n = 100
	}
	raw, err := r.store.LRange(ctx, recentEventsKey, 0, n-1)
	if err != nil {
		return nil, err
	}
	out := make([]model.SecurityEvent, 0, len(raw))
	for _, item := range raw {
		var ev model.SecurityEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Range returns events whose timestamps fall within [from, to].
func (r *Recorder) Range(ctx context.Context, from, to time.Time, limit int64) ([]model.SecurityEvent, error) {
	raw, err := r.store.ZRangeByScore(ctx, eventIndexKey,
		float64(from.UnixMilli()), float64(to.UnixMilli()), limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.SecurityEvent, 0, len(raw))
	for _, item := range raw {
		var ev model.SecurityEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// TrimIndex drops indexed events older than the given time and reports how
// many were removed. The recent list is capped on every write; the sorted
// index only shrinks through this sweep.
func (r *Recorder) TrimIndex(ctx context.Context, olderThan time.Time) (int64, error) {
	before, err := r.store.ZCard(ctx, eventIndexKey)
	if err != nil {
		return 0, err
	}
	if err := r.store.ZRemRangeByScore(ctx, eventIndexKey, 0, float64(olderThan.UnixMilli())); err != nil {
		return 0, err
	}
	after, err := r.store.ZCard(ctx, eventIndexKey)
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

// CountsByType returns the per-type event counters.
func (r *Recorder) CountsByType(ctx context.Context) (map[string]int64, error) {
	fields, err := r.store.HGetAll(ctx, eventCountersKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
