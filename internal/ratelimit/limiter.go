// Package ratelimit implements fixed-window request counting against the
// shared counter store. Windows are wall-clock aligned; a caller can
// legitimately burst near a boundary, which is a documented property of the
// algorithm rather than a defect.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

// KeyFunc derives a limiter identity for requests that carry no resolved
// principal, e.g. the client IP.
type KeyFunc func(req *model.RequestInfo) string

// Result is the limiter decision for one request.
type Result struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	Exceeded   bool
	RetryAfter time.Duration
	// Degraded is set when the store was unreachable and the limiter
	// failed open.
	Degraded bool
}

// Snapshot converts the result into the header view attached to responses.
func (r Result) Snapshot() model.RateLimitSnapshot {
	return model.RateLimitSnapshot{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		ResetAt:   r.ResetAt,
	}
}

// Limiter enforces per-identity fixed-window quotas.
type Limiter struct {
	store  store.Store
	logger *slog.Logger
	window time.Duration
	max    int
	keyFn  KeyFunc
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithKeyFunc sets the anonymous-caller key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(l *Limiter) { l.keyFn = fn }
}

// WithClock replaces the limiter clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the global default quota.
func New(s store.Store, window time.Duration, max int, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		logger: logger.With("component", "ratelimit"),
		window: window,
		max:    max,
		keyFn:  func(req *model.RequestInfo) string { return "ip:" + req.ClientIP() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts the request against the identity's current window. quota may
// be nil, in which case the global default applies. On store failure the
// limiter fails open: it allows the request and reports full remaining
// quota, because an enforcement outage must not become a service outage.
func (l *Limiter) Check(ctx context.Context, principal *model.Principal, req *model.RequestInfo, quota *model.Quota) Result {
	window := l.window
	max := l.max
	if principal != nil && principal.Key != nil && principal.Key.Quota.MaxRequests > 0 {
		window = principal.Key.Quota.Window
		max = principal.Key.Quota.MaxRequests
	}
	if quota != nil && quota.MaxRequests > 0 {
		window = quota.Window
		max = quota.MaxRequests
	}

	identity := principal.LimitKey()
	if identity == "" {
		identity = l.keyFn(req)
	}

	now := l.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)
	bucket := fmt.Sprintf("ratelimit:%s:%d", identity, windowStart.UnixMilli())

	count, err := l.store.IncrWithExpiry(ctx, bucket, window)
	if err != nil {
		l.logger.Error("counter store unavailable, failing open", "error", err, "identity", identity)
		return Result{
			Limit:     max,
			Remaining: max,
			ResetAt:   resetAt,
			Degraded:  true,
		}
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Limit:     max,
		Remaining: remaining,
		ResetAt:   resetAt,
		Exceeded:  count > int64(max),
	}
	if res.Exceeded {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}
