// Package gateway orchestrates the inbound request pipeline: threat
// gating, authentication, rate limiting, handler dispatch, response
// decoration and best-effort accounting.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"fleetgate/internal/auth"
	"fleetgate/internal/config"
	"fleetgate/internal/keys"
	"fleetgate/internal/metrics"
	"fleetgate/internal/model"
	"fleetgate/internal/ratelimit"
	"fleetgate/internal/threat"
)

// Handler is the downstream operation invoked once the pipeline admits a
// request.
type Handler func(ctx context.Context, rc *model.RequestContext) (*model.Response, error)

// ErrorSink records handler failures durably, keyed by request id. The
// audit trail implements it.
type ErrorSink interface {
	RecordHandlerError(ctx context.Context, requestID, endpoint, message string)
}

// Gateway composes the pipeline stages. All dependencies are injected; the
// caller owns their lifecycle.
type Gateway struct {
	validator *auth.Validator
	limiter   *ratelimit.Limiter
	detector  *threat.Detector
	keys      keys.Manager
	reqlog    *RequestLog
	errors    ErrorSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       config.MonitoringConfig
	now       func() time.Time
	// syncAccounting makes post-response accounting synchronous, for tests.
	syncAccounting bool
}

// New creates a Gateway. metrics and errors may be nil.
func New(
	validator *auth.Validator,
	limiter *ratelimit.Limiter,
	detector *threat.Detector,
	km keys.Manager,
	reqlog *RequestLog,
	errSink ErrorSink,
	m *metrics.Metrics,
	cfg config.MonitoringConfig,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		validator: validator,
		limiter:   limiter,
		detector:  detector,
		keys:      km,
		reqlog:    reqlog,
		errors:    errSink,
		metrics:   m,
		logger:    logger.With("component", "gateway"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// newRequestID issues a collision-resistant request id: base-36 millisecond
// prefix plus a random suffix. Not strictly monotonic.
func newRequestID(now time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Degrade to the timestamp alone; uniqueness suffers but the
		// request must not fail over an id.
		return "req_" + strconv.FormatInt(now.UnixMilli(), 36)
	}
	return "req_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + hex.EncodeToString(buf)
}

// Process runs the full pipeline for one request and always returns a
// response carrying X-Request-ID and the rate-limit headers.
func (g *Gateway) Process(ctx context.Context, req *model.RequestInfo, endpoint model.Endpoint, handler Handler) *model.Response {
	start := g.now()
	requestID := newRequestID(start)
	ip := req.ClientIP()

	// Defaults reported when the pipeline rejects before the limiter runs:
	// rejected callers never consume quota.
	limit := ratelimit.Result{}

	// Rejected requests are completed requests too: they get a context so
	// the accounting path can log them.
	rejected := func(principal *model.Principal) *model.RequestContext {
		return &model.RequestContext{
			RequestID: requestID,
			Principal: principal,
			RateLimit: limit.Snapshot(),
			Endpoint:  endpoint,
			Method:    req.Method,
			StartedAt: start,
		}
	}

	verdict := g.detector.Check(ctx, req, endpoint)
	if verdict.Blocked {
		// The caller learns only that access is denied; the triggering
		// signal stays server-side.
		g.logger.Warn("request blocked by threat detector",
			"request_id", requestID, "ip", ip, "endpoint", endpoint.ID,
			"reason", verdict.Reason, "severity", verdict.Severity)
		g.account(rejected(nil), http.StatusForbidden, start, verdict.Reason)
		return g.errorResponse(http.StatusForbidden, "access denied", requestID, limit)
	}

	principal, err := g.validator.Authenticate(ctx, req.Headers)
	if err != nil {
		if endpoint.IsAuthEndpoint() {
			g.detector.ReportAuthFailure(ctx, ip)
		}
		g.account(rejected(nil), http.StatusUnauthorized, start, "")
		return g.errorResponse(http.StatusUnauthorized, "authentication required", requestID, limit)
	}
	if endpoint.IsAuthEndpoint() {
		g.detector.ReportAuthSuccess(ctx, ip)
	}
	if err := g.validator.Authorize(principal, endpoint.RequiredPermission); err != nil {
		g.account(rejected(principal), http.StatusUnauthorized, start, "")
		return g.errorResponse(http.StatusUnauthorized, "insufficient permission", requestID, limit)
	}

	limit = g.limiter.Check(ctx, principal, req, nil)
	if limit.Degraded && g.metrics != nil {
		g.metrics.StoreErrorsTotal.Inc()
	}
	if limit.Exceeded {
		if principal.Key != nil {
			g.keys.RecordRateLimitHit(ctx, principal.Key.ID)
		}
		if g.metrics != nil {
			g.metrics.RateLimitedTotal.Inc()
		}
		g.account(rejected(principal), http.StatusTooManyRequests, start, "")
		resp := g.errorResponse(http.StatusTooManyRequests, "rate limit exceeded", requestID, limit)
		resp.Headers.Set("Retry-After", strconv.Itoa(int(limit.RetryAfter.Seconds())))
		return resp
	}

	rc := &model.RequestContext{
		RequestID: requestID,
		Principal: principal,
		RateLimit: limit.Snapshot(),
		Endpoint:  endpoint,
		Method:    req.Method,
		StartedAt: start,
	}

	resp, handlerErr := g.invoke(ctx, rc, handler)
	if handlerErr != nil {
		g.logger.Error("handler failed",
			"request_id", requestID, "endpoint", endpoint.ID, "error", handlerErr)
		if g.errors != nil {
			g.errors.RecordHandlerError(ctx, requestID, endpoint.ID, handlerErr.Error())
		}
		resp = g.errorResponse(http.StatusInternalServerError, "internal server error", requestID, limit)
	}
	if resp == nil {
		resp = &model.Response{Status: http.StatusNoContent, Headers: http.Header{}}
	}
	g.decorate(resp, requestID, limit)

	g.account(rc, resp.Status, start, "")
	return resp
}

// invoke runs the handler, converting panics into errors so a misbehaving
// operation can never take the gateway down.
func (g *Gateway) invoke(ctx context.Context, rc *model.RequestContext, handler Handler) (resp *model.Response, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v\n%s", recovered, debug.Stack())
			resp = nil
		}
	}()
	return handler(ctx, rc)
}

// account performs the post-response best-effort work: the rolling request
// log, per-key analytics, metrics and slow-request reporting. Nothing here
// can fail the request.
func (g *Gateway) account(rc *model.RequestContext, status int, start time.Time, blockedReason string) {
	duration := g.now().Sub(start)
	run := func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				g.logger.Warn("request accounting panicked", "panic", recovered)
			}
		}()
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if g.cfg.EnableRequestLogging && g.reqlog != nil {
			g.reqlog.Append(bg, Entry{
				RequestID: rc.RequestID,
				Endpoint:  rc.Endpoint.ID,
				Method:    rc.Method,
				Status:    status,
				Identity:  identityLabel(rc.Principal),
				Remaining: rc.RateLimit.Remaining,
				Duration:  duration.Milliseconds(),
				At:        start,
			})
		}
		// Throttled requests are counted by RecordRateLimitHit instead.
		if rc.Principal != nil && rc.Principal.Key != nil && status != http.StatusTooManyRequests {
			g.keys.RecordUsage(bg, rc.Principal.Key.ID, rc.Endpoint.ID, status < 400)
		}
		if g.metrics != nil {
			g.metrics.RequestDuration.WithLabelValues(rc.Endpoint.ID).Observe(duration.Seconds())
		}
		if g.cfg.SlowRequestThreshold > 0 && duration > g.cfg.SlowRequestThreshold {
			g.logger.Warn("slow request",
				"request_id", rc.RequestID, "endpoint", rc.Endpoint.ID,
				"duration_ms", duration.Milliseconds())
		}
	}
	g.count(rc.Endpoint.ID, status, blockedReason)
	if g.syncAccounting {
		run()
		return
	}
	go run()
}

func (g *Gateway) count(endpoint string, status int, blockedReason string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if blockedReason != "" {
		g.metrics.BlockedTotal.WithLabelValues(blockedReason).Inc()
	}
}

func identityLabel(p *model.Principal) string {
	if p == nil {
		return "anonymous"
	}
	if p.Key != nil {
		return "key:" + p.Key.ID
	}
	if p.UserID != "" {
		return "user:" + p.UserID
	}
	return "anonymous"
}

// decorate attaches the standard headers every response carries.
func (g *Gateway) decorate(resp *model.Response, requestID string, limit ratelimit.Result) {
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	resp.Headers.Set("X-Request-ID", requestID)
	resp.Headers.Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
	resp.Headers.Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	var reset int64
	if !limit.ResetAt.IsZero() {
		reset = limit.ResetAt.Unix()
	}
	resp.Headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

func (g *Gateway) errorResponse(status int, message, requestID string, limit ratelimit.Result) *model.Response {
	resp := &model.Response{
		Status:  status,
		Headers: http.Header{},
		Body: model.ErrorBody{
			Success:   false,
			Error:     model.ErrorDetail{Code: fmt.Sprintf("E%d", status), Message: message},
			Timestamp: g.now(),
			RequestID: requestID,
		},
	}
	g.decorate(resp, requestID, limit)
	return resp
}
