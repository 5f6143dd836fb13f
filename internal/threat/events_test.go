package threat

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgate/internal/logger"
	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	rec := NewRecorder(mem, logger.NewWithWriter(discard{}, false), nil)
	rec.syncWrites = true
	return rec, mem
}

func TestRecordAssignsIdentityAndTimestamp(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	rec.Record(ctx, model.SecurityEvent{
		Type:     model.EventInjection,
		Severity: model.SeverityCritical,
		SourceIP: "203.0.113.10",
		Blocked:  true,
	})

	events, err := rec.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, model.EventInjection, events[0].Type)
}

func TestRecentIsNewestFirstAndCapped(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < recentEventsCap+5; i++ {
		rec.Record(ctx, model.SecurityEvent{
			Type:     model.EventFlood,
			SourceIP: "203.0.113." + strconv.Itoa(i%250),
			Details:  map[string]string{"seq": strconv.Itoa(i)},
		})
	}

	events, err := rec.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, strconv.Itoa(recentEventsCap+4), events[0].Details["seq"])

	all, err := rec.Recent(ctx, recentEventsCap)
	require.NoError(t, err)
	assert.Len(t, all, recentEventsCap, "buffer is bounded")
}

func TestTrimIndexDropsOldEntries(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		rec.Record(ctx, model.SecurityEvent{
			Type:      model.EventFlood,
			SourceIP:  "203.0.113.10",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Details:   map[string]string{"seq": strconv.Itoa(i)},
		})
	}

	trimmed, err := rec.TrimIndex(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), trimmed)

	remaining, err := rec.Range(ctx, base, base.Add(6*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	for _, ev := range remaining {
		assert.True(t, ev.Timestamp.After(base.Add(2*time.Hour)))
	}
}

func TestRangeFiltersByTimestamp(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec.Record(ctx, model.SecurityEvent{
			ID:        "ev-" + strconv.Itoa(i),
			Type:      model.EventBruteForce,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	events, err := rec.Range(ctx, base.Add(time.Minute), base.Add(3*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "ev-3", events[2].ID)
}

func TestCountsByType(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, model.SecurityEvent{Type: model.EventInjection})
	}
	rec.Record(ctx, model.SecurityEvent{Type: model.EventFlood})

	counts, err := rec.CountsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[string(model.EventInjection)])
	assert.Equal(t, int64(1), counts[string(model.EventFlood)])
}

type captureEventSink struct {
	events []model.SecurityEvent
}

func (c *captureEventSink) Record(_ context.Context, event model.SecurityEvent) {
	c.events = append(c.events, event)
}

func TestRecorderForwardsToDurableSink(t *testing.T) {
	mem := store.NewMemoryStore()
	sink := &captureEventSink{}
	rec := NewRecorder(mem, logger.NewWithWriter(discard{}, false), sink)
	rec.syncWrites = true

	rec.Record(context.Background(), model.SecurityEvent{Type: model.EventStaleSignature})
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.EventStaleSignature, sink.events[0].Type)
}

func TestIntelCacheHitAndMiss(t *testing.T) {
	mem := store.NewMemoryStore()
	log := logger.NewWithWriter(discard{}, false)
	provider := &countingIntel{}
	cache := NewIntelCache(mem, provider, time.Hour, log)
	ctx := context.Background()

	first := cache.Get(ctx, "203.0.113.10")
	assert.Equal(t, "203.0.113.10", first.IP)
	assert.Equal(t, 1, provider.calls)

	// Second lookup is served from the store.
	cache.Get(ctx, "203.0.113.10")
	assert.Equal(t, 1, provider.calls)

	cache.Get(ctx, "203.0.113.11")
	assert.Equal(t, 2, provider.calls)
}

func TestIntelCacheDegradesToNeutral(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailAll = true
	provider := &countingIntel{err: context.DeadlineExceeded}
	cache := NewIntelCache(mem, provider, time.Hour, logger.NewWithWriter(discard{}, false))

	intel := cache.Get(context.Background(), "203.0.113.10")
	require.NotNil(t, intel)
	assert.Equal(t, "203.0.113.10", intel.IP)
	assert.Zero(t, intel.ThreatLevel)
	assert.False(t, intel.IsTor)
}

func TestHeuristicProvider(t *testing.T) {
	p := heuristicProvider{}

	private, err := p.Lookup(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Zero(t, private.ThreatLevel)

	public, err := p.Lookup(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, 10, public.ThreatLevel)

	garbage, err := p.Lookup(context.Background(), "not-an-ip")
	require.NoError(t, err)
	assert.Equal(t, 30, garbage.ThreatLevel)
}

type countingIntel struct {
	calls int
	err   error
}

func (c *countingIntel) Lookup(_ context.Context, ip string) (*model.IPIntelligence, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &model.IPIntelligence{IP: ip}, nil
}
