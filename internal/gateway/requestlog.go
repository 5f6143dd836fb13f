package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleetgate/internal/store"
)

const (
	requestLogKey = "gateway:requests:log"
	// requestLogCap bounds the rolling completed-request log.
	requestLogCap = 10000
)

// Entry is one completed-request record in the rolling log.
type Entry struct {
	RequestID string    `json:"request_id"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	Identity  string    `json:"identity"`
	Remaining int       `json:"remaining"`
	Duration  int64     `json:"duration_ms"`
	At        time.Time `json:"at"`
}

// RequestLog keeps the most recent completed requests in the shared store.
type RequestLog struct {
	store  store.Store
	logger *slog.Logger
}

// NewRequestLog creates a RequestLog.
func NewRequestLog(s store.Store, logger *slog.Logger) *RequestLog {
	return &RequestLog{store: s, logger: logger.With("component", "reqlog")}
}

// Append pushes an entry and trims past the cap. Failures are logged and
// never propagate to the caller.
func (l *RequestLog) Append(ctx context.Context, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("failed to encode request log entry", "error", err)
		return
	}
	if err := l.store.LPush(ctx, requestLogKey, string(raw)); err != nil {
		l.logger.Warn("failed to append request log entry", "error", err)
		return
	}
	if err := l.store.LTrim(ctx, requestLogKey, 0, requestLogCap-1); err != nil {
		l.logger.Warn("failed to trim request log", "error", err)
	}
}

// Recent returns up to n newest entries.
func (l *RequestLog) Recent(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 || n > requestLogCap {
		n = 100
	}
	raw, err := l.store.LRange(ctx, requestLogKey, 0, n-1)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
