// Package threat classifies inbound requests with an ordered chain of
// heuristics: IP filtering, flood protection, brute-force tracking,
// injection detection, signature freshness and a composite suspicion score.
// The first blocking stage short-circuits the rest. Every block and every
// soft-monitoring hit is persisted as a security event.
package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fleetgate/internal/config"
	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

const (
	denyListKey    = "security:iplist:deny"
	allowListKey   = "security:iplist:allow"
	tempDenyPrefix = "security:ipban:"
	floodPrefix    = "security:flood:"
	brutePrefix    = "security:bruteforce:"
	volumePrefix   = "security:volume:"

	floodWindow  = time.Minute
	volumeWindow = 10 * time.Second

	// blockScore is the suspicion threshold above which a request is
	// denied; monitorScore opens the soft-monitoring band below it.
	blockScore   = 80
	monitorScore = 60
)

// Verdict is the detector's decision for one request.
type Verdict struct {
	Blocked  bool
	Reason   string
	Severity model.Severity
	Details  map[string]string
	// Score is the composite suspicion score; populated only when the
	// chain reaches the scoring stage.
	Score int
}

// Detector runs the heuristic chain. All counters live in the shared store
// so blocking decisions are consistent across gateway instances.
type Detector struct {
	store    store.Store
	recorder *Recorder
	intel    *IntelCache
	logger   *slog.Logger
	cfg      config.ThreatConfig
	custom   []*regexp.Regexp
	now      func() time.Time
}

// NewDetector creates a Detector. Invalid custom patterns are skipped with a
// warning.
func NewDetector(s store.Store, cfg config.ThreatConfig, recorder *Recorder, intel *IntelCache, logger *slog.Logger) *Detector {
	compiled, bad := compilePatterns(cfg.CustomPatterns)
	log := logger.With("component", "threat")
	for _, p := range bad {
		log.Warn("skipping invalid custom threat pattern", "pattern", p)
	}
	return &Detector{
		store:    s,
		recorder: recorder,
		intel:    intel,
		logger:   log,
		cfg:      cfg,
		custom:   compiled,
		now:      time.Now,
	}
}

// Check evaluates the chain for one request. Store failures inside a stage
// degrade that stage to a pass: threat heuristics fail open like the rate
// limiter, with the failure logged.
func (d *Detector) Check(ctx context.Context, req *model.RequestInfo, endpoint model.Endpoint) Verdict {
	ip := req.ClientIP()

	if v := d.checkIPFilter(ctx, ip, endpoint); v.Blocked {
		d.report(ctx, v, ip, endpoint, model.EventIPBlocked)
		return v
	}
	if v := d.checkFlood(ctx, ip, endpoint); v.Blocked {
		d.report(ctx, v, ip, endpoint, model.EventFlood)
		return v
	}
	if endpoint.IsAuthEndpoint() {
		if v := d.checkBruteForce(ctx, ip); v.Blocked {
			d.report(ctx, v, ip, endpoint, model.EventBruteForce)
			return v
		}
	}
	if v := d.checkInjection(req); v.Blocked {
		d.report(ctx, v, ip, endpoint, model.EventInjection)
		return v
	}
	if v := d.checkSignatureFreshness(req); v.Blocked {
		d.report(ctx, v, ip, endpoint, model.EventStaleSignature)
		return v
	}

	v := d.scoreRequest(ctx, req, ip)
	if v.Blocked {
		d.report(ctx, v, ip, endpoint, model.EventSuspicious)
		return v
	}
	if v.Score > monitorScore {
		// Soft-monitoring band: recorded for review, request proceeds.
		d.recorder.Record(ctx, model.SecurityEvent{
			Type:     model.EventSuspicious,
			Severity: model.SeverityMedium,
			SourceIP: ip,
			Endpoint: endpoint.ID,
			Blocked:  false,
			Details: map[string]string{
				"score": strconv.Itoa(v.Score),
			},
		})
	}
	return v
}

func (d *Detector) report(ctx context.Context, v Verdict, ip string, endpoint model.Endpoint, typ model.EventType) {
	details := v.Details
	if details == nil {
		details = map[string]string{}
	}
	details["reason"] = v.Reason
	d.recorder.Record(ctx, model.SecurityEvent{
		Type:     typ,
		Severity: v.Severity,
		SourceIP: ip,
		Endpoint: endpoint.ID,
		Blocked:  true,
		Details:  details,
	})
}

// checkIPFilter applies the explicit deny list (including temporary flood
// bans) ahead of the allow list. In allow-list mode, non-members are denied
// by default.
func (d *Detector) checkIPFilter(ctx context.Context, ip string, _ model.Endpoint) Verdict {
	denied, err := d.store.SIsMember(ctx, denyListKey, ip)
	if err != nil {
		d.logger.Warn("deny list check failed", "error", err)
		return Verdict{}
	}
	if !denied {
		banned, err := d.store.Exists(ctx, tempDenyPrefix+ip)
		if err != nil {
			d.logger.Warn("temporary ban check failed", "error", err)
		}
		denied = banned
	}
	if denied {
		return Verdict{
			Blocked:  true,
			Reason:   "source address is deny-listed",
			Severity: model.SeverityHigh,
		}
	}

	if d.cfg.AllowListMode {
		allowed, err := d.store.SIsMember(ctx, allowListKey, ip)
		if err != nil {
			d.logger.Warn("allow list check failed", "error", err)
			return Verdict{}
		}
		if !allowed {
			return Verdict{
				Blocked:  true,
				Reason:   "source address not on allow list",
				Severity: model.SeverityMedium,
			}
		}
	}
	return Verdict{}
}

// checkFlood counts per-IP requests over a one-minute window. Exceeding the
// ceiling blocks the request and places a short-lived temporary ban so
// subsequent requests fail fast at the IP filter stage.
func (d *Detector) checkFlood(ctx context.Context, ip string, _ model.Endpoint) Verdict {
	windowStart := d.now().Truncate(floodWindow)
	bucket := fmt.Sprintf("%s%s:%d", floodPrefix, ip, windowStart.Unix())
	count, err := d.store.IncrWithExpiry(ctx, bucket, floodWindow)
	if err != nil {
		d.logger.Warn("flood counter unavailable", "error", err)
		return Verdict{}
	}
	if count <= int64(d.cfg.FloodCeiling) {
		return Verdict{}
	}
	if err := d.store.Set(ctx, tempDenyPrefix+ip, "flood", d.cfg.FloodBanDuration); err != nil {
		d.logger.Warn("failed to place temporary ban", "ip", ip, "error", err)
	}
	return Verdict{
		Blocked:  true,
		Reason:   "request flood ceiling exceeded",
		Severity: model.SeverityHigh,
		Details: map[string]string{
			"count":   strconv.FormatInt(count, 10),
			"ceiling": strconv.Itoa(d.cfg.FloodCeiling),
		},
	}
}

func (d *Detector) checkBruteForce(ctx context.Context, ip string) Verdict {
	raw, err := d.store.Get(ctx, brutePrefix+ip)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("brute force counter unavailable", "error", err)
		}
		return Verdict{}
	}
	count, _ := strconv.ParseInt(raw, 10, 64)
	if count < int64(d.cfg.BruteForceLimit) {
		return Verdict{}
	}
	return Verdict{
		Blocked:  true,
		Reason:   "too many failed authentication attempts",
		Severity: model.SeverityHigh,
		Details: map[string]string{
			"failures": strconv.FormatInt(count, 10),
		},
	}
}

// ReportAuthFailure counts a failed authentication against the source IP.
// Called by the gateway after the credential validator rejects a request to
// an authentication-class endpoint.
func (d *Detector) ReportAuthFailure(ctx context.Context, ip string) {
	if _, err := d.store.IncrWithExpiry(ctx, brutePrefix+ip, d.cfg.BruteForceWindow); err != nil {
		d.logger.Warn("failed to record auth failure", "ip", ip, "error", err)
	}
}

// ReportAuthSuccess clears the brute-force counter for the IP.
func (d *Detector) ReportAuthSuccess(ctx context.Context, ip string) {
	if err := d.store.Delete(ctx, brutePrefix+ip); err != nil {
		d.logger.Warn("failed to clear auth failure counter", "ip", ip, "error", err)
	}
}

func (d *Detector) checkInjection(req *model.RequestInfo) Verdict {
	payloads := []string{req.RawQuery}
	if req.Method != "GET" && len(req.Body) > 0 {
		payloads = append(payloads, string(req.Body))
	}
	match := scanInjection(payloads, d.custom)
	if match == nil {
		return Verdict{}
	}
	return Verdict{
		Blocked:  true,
		Reason:   match.kind + " injection pattern detected",
		Severity: match.severity,
		Details: map[string]string{
			"kind":    match.kind,
			"pattern": match.pattern,
		},
	}
}

// checkSignatureFreshness rejects signed requests whose timestamp falls
// outside the tolerance window, guarding against replay.
func (d *Detector) checkSignatureFreshness(req *model.RequestInfo) Verdict {
	sig := req.Headers.Get("X-Signature")
	ts := req.Headers.Get("X-Timestamp")
	if sig == "" || ts == "" {
		return Verdict{}
	}
	unix, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return Verdict{
			Blocked:  true,
			Reason:   "malformed request timestamp",
			Severity: model.SeverityMedium,
		}
	}
	stamped := time.Unix(unix, 0)
	drift := d.now().Sub(stamped)
	if drift < 0 {
		drift = -drift
	}
	if drift > d.cfg.SignatureTolerance {
		return Verdict{
			Blocked:  true,
			Reason:   "request signature timestamp outside tolerance",
			Severity: model.SeverityMedium,
			Details: map[string]string{
				"drift": drift.String(),
			},
		}
	}
	return Verdict{}
}

// Suspicion score weights. The score is a monotonic sum of independent
// signals, clamped to [0,100].
const (
	weightProxy       = 15
	weightVPN         = 15
	weightTor         = 25
	weightNoUserAgent = 20
	weightShortUA     = 10
	weightBotUA       = 15
	weightTraversal   = 30
	weightEncoding    = 15
	weightLongQuery   = 10
	weightHighVolume  = 20
)

var botUAPattern = regexp.MustCompile(`(?i)\b(bot|crawler|spider|scraper|curl|wget|python-requests)\b`)

func (d *Detector) scoreRequest(ctx context.Context, req *model.RequestInfo, ip string) Verdict {
	score := 0
	details := map[string]string{}

	intel := d.intel.Get(ctx, ip)
	if intel.IsProxy {
		score += weightProxy
		details["proxy"] = "true"
	}
	if intel.IsVPN {
		score += weightVPN
		details["vpn"] = "true"
	}
	if intel.IsTor {
		score += weightTor
		details["tor"] = "true"
	}
	// Threat level contributes proportionally, up to 25 points.
	score += intel.ThreatLevel / 4

	ua := req.UserAgent()
	switch {
	case ua == "":
		score += weightNoUserAgent
		details["user_agent"] = "missing"
	case len(ua) < 10:
		score += weightShortUA
		details["user_agent"] = "short"
	case botUAPattern.MatchString(ua):
		score += weightBotUA
		details["user_agent"] = "bot"
	}

	path := req.Path
	if strings.Contains(path, "..") || strings.Contains(strings.ToLower(path), "%2e%2e") {
		score += weightTraversal
		details["path"] = "traversal"
	}
	if strings.Count(req.RawQuery, "%") > 10 {
		score += weightEncoding
		details["query"] = "encoding"
	}
	if len(req.RawQuery) > 2048 {
		score += weightLongQuery
		details["query_len"] = strconv.Itoa(len(req.RawQuery))
	}

	bucket := fmt.Sprintf("%s%s:%d", volumePrefix, ip, d.now().Truncate(volumeWindow).Unix())
	if count, err := d.store.IncrWithExpiry(ctx, bucket, volumeWindow); err == nil && count > 50 {
		score += weightHighVolume
		details["volume"] = strconv.FormatInt(count, 10)
	}

	if score > 100 {
		score = 100
	}

	v := Verdict{Score: score, Details: details}
	if score > blockScore {
		v.Blocked = true
		v.Reason = "composite suspicion score exceeded threshold"
		v.Severity = model.SeverityHigh
		details["score"] = strconv.Itoa(score)
	}
	return v
}

// DenyIP adds an address to the permanent deny list.
func (d *Detector) DenyIP(ctx context.Context, ip string) error {
	return d.store.SAdd(ctx, denyListKey, ip)
}

// UndenyIP removes an address from the permanent deny list.
func (d *Detector) UndenyIP(ctx context.Context, ip string) error {
	return d.store.SRem(ctx, denyListKey, ip)
}

// AllowIP adds an address to the allow list used in allow-list mode.
func (d *Detector) AllowIP(ctx context.Context, ip string) error {
	return d.store.SAdd(ctx, allowListKey, ip)
}

// DenyListSize returns the permanent deny list cardinality.
func (d *Detector) DenyListSize(ctx context.Context) (int64, error) {
	return d.store.SCard(ctx, denyListKey)
}
