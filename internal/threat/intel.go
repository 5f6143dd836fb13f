package threat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

// IntelProvider resolves reputation data for an IP on cache miss.
type IntelProvider interface {
	Lookup(ctx context.Context, ip string) (*model.IPIntelligence, error)
}

// IntelCache is a TTL cache over an IntelProvider, backed by the shared
// store so all instances share lookups.
type IntelCache struct {
	store    store.Store
	provider IntelProvider
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewIntelCache creates an IntelCache. A nil provider falls back to the
// built-in heuristic provider.
func NewIntelCache(s store.Store, provider IntelProvider, ttl time.Duration, logger *slog.Logger) *IntelCache {
	if provider == nil {
		provider = heuristicProvider{}
	}
	return &IntelCache{
		store:    s,
		provider: provider,
		logger:   logger.With("component", "ip-intel"),
		ttl:      ttl,
		now:      time.Now,
	}
}

func intelKey(ip string) string { return "security:intel:" + ip }

// Get returns cached reputation for ip, refreshing on miss. Failures
// degrade to a neutral record rather than erroring: reputation is an input
// to a heuristic, not a gate of its own.
func (c *IntelCache) Get(ctx context.Context, ip string) *model.IPIntelligence {
	raw, err := c.store.Get(ctx, intelKey(ip))
	if err == nil {
		var intel model.IPIntelligence
		if jsonErr := json.Unmarshal([]byte(raw), &intel); jsonErr == nil {
			return &intel
		}
	}

	intel, err := c.provider.Lookup(ctx, ip)
	if err != nil {
		c.logger.Debug("ip intelligence lookup failed", "ip", ip, "error", err)
		return &model.IPIntelligence{IP: ip, FetchedAt: c.now()}
	}
	intel.FetchedAt = c.now()

	if encoded, err := json.Marshal(intel); err == nil {
		if err := c.store.Set(ctx, intelKey(ip), string(encoded), c.ttl); err != nil {
			c.logger.Debug("failed to cache ip intelligence", "ip", ip, "error", err)
		}
	}
	return intel
}

// heuristicProvider derives a coarse reputation without an external service:
// private and loopback ranges are trusted, everything else is neutral.
// Deployments front a commercial feed by supplying their own IntelProvider.
type heuristicProvider struct{}

func (heuristicProvider) Lookup(_ context.Context, ip string) (*model.IPIntelligence, error) {
	intel := &model.IPIntelligence{IP: ip}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		intel.ThreatLevel = 30
		return intel, nil
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return intel, nil
	}
	// Unknown public address: neutral threat floor.
	intel.ThreatLevel = 10
	return intel, nil
}
