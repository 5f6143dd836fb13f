package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-instance
// development runs. It honors TTLs against an injectable clock.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memVal
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	lists   map[string][]string
	hashes  map[string]map[string]int64
	now     func() time.Time
	// FailAll makes every operation return PingErr, simulating an outage.
	FailAll bool
	// PingErr is returned by Ping (and all ops when FailAll is set).
	PingErr error
}

type memVal struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memVal),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]int64),
		now:    time.Now,
	}
}

// SetClock replaces the store's clock, for window-boundary tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) err() error {
	if m.FailAll {
		if m.PingErr != nil {
			return m.PingErr
		}
		return context.DeadlineExceeded
	}
	return nil
}

func (m *MemoryStore) expired(v memVal) bool {
	return !v.expiresAt.IsZero() && m.now().After(v.expiresAt)
}

func (m *MemoryStore) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	v, ok := m.values[key]
	if !ok || m.expired(v) {
		nv := memVal{value: "1"}
		if ttl > 0 {
			nv.expiresAt = m.now().Add(ttl)
		}
		m.values[key] = nv
		return 1, nil
	}
	n := parseInt(v.value) + 1
	v.value = formatInt(n)
	m.values[key] = v
	return n, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return "", err
	}
	v, ok := m.values[key]
	if !ok || m.expired(v) {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	v := memVal{value: value}
	if ttl > 0 {
		v.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = v
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	if v, ok := m.values[key]; ok && !m.expired(v) {
		return false, nil
	}
	v := memVal{value: value}
	if ttl > 0 {
		v.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = v
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.zsets, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	v, ok := m.values[key]
	if ok && !m.expired(v) {
		return true, nil
	}
	_, ok = m.sets[key]
	return ok, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	for _, mem := range members {
		m.sets[key][mem] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	for _, mem := range members {
		delete(m.sets[key], mem)
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	return int64(len(m.sets[key])), nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, members ...Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	for _, mem := range members {
		m.zsets[key][mem.Member] = mem.Score
	}
	return nil
}

func (m *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for mem, score := range m.zsets[key] {
		if score >= min && score <= max {
			entries = append(entries, entry{mem, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score == entries[j].score {
			return entries[i].member < entries[j].member
		}
		return entries[i].score < entries[j].score
	})
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		out = append(out, e.member)
	}
	return out, nil
}

func (m *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	for mem, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], mem)
		}
	}
	return nil
}

func (m *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	return nil
}

func (m *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = l[start : stop+1]
	return nil
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]int64)
	}
	m.hashes[key][field] += incr
	return m.hashes[key][field], nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = formatInt(v)
	}
	return out, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	return m.PingErr
}

func (m *MemoryStore) Close() error { return nil }

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
