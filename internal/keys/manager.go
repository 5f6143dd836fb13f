// Package keys issues, validates, rotates and revokes the gateway's
// long-lived API credentials. All state lives in the shared counter store so
// every gateway instance sees the same key set.
package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

var (
	// ErrNotFound is returned when no key matches the given id or secret.
	ErrNotFound = errors.New("api key not found")
	// ErrRevoked is returned for operations that are illegal on a revoked
	// key. Revocation is terminal.
	ErrRevoked = errors.New("api key is revoked")
	// ErrValidation is wrapped by all shape-validation failures.
	ErrValidation = errors.New("invalid api key request")
	// ErrRotationPartial signals that rotation failed between writing the
	// new lookup entry and retiring the old one. A high-severity alert is
	// raised alongside this error instead of silently succeeding.
	ErrRotationPartial = errors.New("api key rotation partially applied")
)

// Quota bounds for per-key overrides.
const (
	minQuotaRequests = 1
	maxQuotaRequests = 10000
	minQuotaWindow   = time.Second
	maxQuotaWindow   = time.Hour
)

// DefaultQuota applies when a key is created without an override.
var DefaultQuota = model.Quota{MaxRequests: 1000, Window: 60 * time.Second}

// AlertSink receives high-severity operational alerts, e.g. a rotation that
// detected partial failure. The threat event recorder implements it.
type AlertSink interface {
	Alert(ctx context.Context, event model.SecurityEvent)
}

// Codec seals the persisted record payload at rest. The secrets package
// provides the AES-GCM implementation; a nil codec stores records in plain
// JSON.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// record is the persisted envelope. Verification material never leaves this
// package; callers only ever see the embedded model.APIKey.
type record struct {
	Key          model.APIKey `json:"key"`
	SecretHash   string       `json:"secret_hash"`
	LookupDigest string       `json:"lookup_digest"`
}

// CreateRequest is the input for issuing a new key.
type CreateRequest struct {
	Name        string            `json:"name"`
	Permissions []string          `json:"permissions"`
	Quota       *model.Quota      `json:"quota,omitempty"`
	ExpiresIn   int               `json:"expires_in_days,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreatedKey is the one-time creation result carrying the plaintext secret.
type CreatedKey struct {
	Key    *model.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

// UpdateRequest is a partial key mutation. Nil fields are left unchanged.
type UpdateRequest struct {
	Name        *string           `json:"name,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	Quota       *model.Quota      `json:"quota,omitempty"`
	Status      *model.KeyStatus  `json:"status,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Manager is the API key lifecycle contract. The interface exists so the
// admin handlers and the gateway can be tested against a mock.
type Manager interface {
	Create(ctx context.Context, req CreateRequest, actor string) (*CreatedKey, error)
	Validate(ctx context.Context, secret string) (*model.APIKey, error)
	Get(ctx context.Context, id string) (*model.APIKey, error)
	List(ctx context.Context, status model.KeyStatus, page, perPage int) ([]*model.APIKey, int, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*model.APIKey, error)
	Revoke(ctx context.Context, id, actor string) error
	Rotate(ctx context.Context, id, actor string) (*CreatedKey, error)
	Analytics(ctx context.Context, id string, days int) (*model.KeyAnalytics, error)
	RecordUsage(ctx context.Context, id, endpoint string, success bool)
	RecordRateLimitHit(ctx context.Context, id string)
	Cleanup(ctx context.Context) (int, error)
}

// RedisManager implements Manager on the shared counter store.
type RedisManager struct {
	store  store.Store
	logger *slog.Logger
	alerts AlertSink
	codec  Codec
	now    func() time.Time
	// syncWrites makes best-effort async updates synchronous, for tests.
	syncWrites bool
}

// ManagerOption customizes a RedisManager.
type ManagerOption func(*RedisManager)

// WithRecordCodec makes the manager seal record payloads before storing.
func WithRecordCodec(c Codec) ManagerOption {
	return func(m *RedisManager) { m.codec = c }
}

// NewManager creates a RedisManager. alerts may be nil.
func NewManager(s store.Store, logger *slog.Logger, alerts AlertSink, opts ...ManagerOption) *RedisManager {
	m := &RedisManager{
		store:  s,
		logger: logger.With("component", "keys"),
		alerts: alerts,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func recordKey(id string) string     { return "keys:record:" + id }
func lookupKey(digest string) string { return "keys:lookup:" + digest }
func indexKey(status model.KeyStatus) string {
	return "keys:index:" + string(status)
}
func usageKey(id string) string     { return "keys:usage:" + id }
func lastUsedKey(id string) string  { return "keys:lastused:" + id }
func dailyKey(id string) string     { return "keys:usage:" + id + ":daily" }
func endpointsKey(id string) string { return "keys:usage:" + id + ":endpoints" }

// canTransition is the single authority for the key status state machine:
// active and inactive are interchangeable, revoked is terminal.
func canTransition(from, to model.KeyStatus) bool {
	if from == model.KeyStatusRevoked {
		return false
	}
	return to.Valid()
}

func validateShape(name string, permissions []string, quota *model.Quota, expiresInDays int) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(permissions) == 0 {
		return fmt.Errorf("%w: at least one permission is required", ErrValidation)
	}
	if quota != nil {
		if quota.MaxRequests < minQuotaRequests || quota.MaxRequests > maxQuotaRequests {
			return fmt.Errorf("%w: quota max_requests must be within [%d,%d]", ErrValidation, minQuotaRequests, maxQuotaRequests)
		}
		if quota.Window < minQuotaWindow || quota.Window > maxQuotaWindow {
			return fmt.Errorf("%w: quota window must be within [%s,%s]", ErrValidation, minQuotaWindow, maxQuotaWindow)
		}
	}
	if expiresInDays < 0 {
		return fmt.Errorf("%w: expires_in_days must be positive", ErrValidation)
	}
	return nil
}

// Create validates the request, issues a secret and stores the new key.
// The plaintext secret is returned exactly once and never persisted.
func (m *RedisManager) Create(ctx context.Context, req CreateRequest, actor string) (*CreatedKey, error) {
	if err := validateShape(req.Name, req.Permissions, req.Quota, req.ExpiresIn); err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	hash, err := hashSecret(secret)
	if err != nil {
		return nil, err
	}

	now := m.now()
	key := model.APIKey{
		ID:          id,
		Name:        req.Name,
		Permissions: req.Permissions,
		Quota:       DefaultQuota,
		Status:      model.KeyStatusActive,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Quota != nil {
		key.Quota = *req.Quota
	}
	if req.ExpiresIn > 0 {
		exp := now.AddDate(0, 0, req.ExpiresIn)
		key.ExpiresAt = &exp
	}
	if key.Metadata == nil {
		key.Metadata = make(map[string]string)
	}
	key.Metadata["created_by"] = actor

	rec := &record{
		Key:          key,
		SecretHash:   hash,
		LookupDigest: lookupDigest(secret),
	}
	if err := m.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	ok, err := m.store.SetNX(ctx, lookupKey(rec.LookupDigest), id, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to write lookup entry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lookup digest collision for key %s", id)
	}
	if err := m.store.SAdd(ctx, indexKey(model.KeyStatusActive), id); err != nil {
		return nil, fmt.Errorf("failed to index key: %w", err)
	}

	// Analytics counters start at zero so the first aggregation sees a
	// complete field set.
	for _, field := range []string{"total", "success", "failed", "rate_limited"} {
		if _, err := m.store.HIncrBy(ctx, usageKey(id), field, 0); err != nil {
			m.logger.Warn("failed to initialize analytics counters", "key_id", id, "error", err)
			break
		}
	}

	m.logger.Info("api key created", "key_id", id, "name", req.Name, "actor", actor)
	return &CreatedKey{Key: &rec.Key, Secret: secret}, nil
}

// Validate resolves a plaintext secret to its key record. The lookup is a
// single round trip keyed by the secret's digest; the stored argon2id hash
// is then verified. Store errors fail closed.
func (m *RedisManager) Validate(ctx context.Context, secret string) (*model.APIKey, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	id, err := m.store.Get(ctx, lookupKey(lookupDigest(secret)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !verifySecret(secret, rec.SecretHash) {
		return nil, ErrNotFound
	}
	if rec.Key.Status != model.KeyStatusActive {
		return nil, ErrNotFound
	}
	if rec.Key.Expired(m.now()) {
		return nil, ErrNotFound
	}

	key := rec.Key
	used := m.now()
	key.LastUsedAt = &used
	// The refresh lives in its own store key and is a single Set. Rewriting
	// the record here would race concurrent Update and Revoke: a stale
	// record write could resurrect a revoked key.
	m.async(func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.Set(bg, lastUsedKey(key.ID), used.UTC().Format(time.RFC3339Nano), 0); err != nil {
			m.logger.Debug("failed to refresh last-used timestamp", "key_id", key.ID, "error", err)
		}
	})
	return &key, nil
}

// Get loads a key by id. Verification material is stripped.
func (m *RedisManager) Get(ctx context.Context, id string) (*model.APIKey, error) {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	key := rec.Key
	m.attachLastUsed(ctx, &key)
	return &key, nil
}

// attachLastUsed merges the separately stored last-used timestamp. Absence
// and store errors leave the field nil.
func (m *RedisManager) attachLastUsed(ctx context.Context, key *model.APIKey) {
	raw, err := m.store.Get(ctx, lastUsedKey(key.ID))
	if err != nil {
		return
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		key.LastUsedAt = &t
	}
}

func (m *RedisManager) getRecord(ctx context.Context, id string) (*record, error) {
	raw, err := m.store.Get(ctx, recordKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}
	data := []byte(raw)
	if m.codec != nil {
		sealed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt key record %s: %w", id, err)
		}
		if data, err = m.codec.Decrypt(sealed); err != nil {
			return nil, fmt.Errorf("failed to open key record %s: %w", id, err)
		}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt key record %s: %w", id, err)
	}
	return &rec, nil
}

// List pages through a status index set. Secrets and verification material
// are never present on the returned records.
func (m *RedisManager) List(ctx context.Context, status model.KeyStatus, page, perPage int) ([]*model.APIKey, int, error) {
	if !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	ids, err := m.store.SMembers(ctx, indexKey(status))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read status index: %w", err)
	}
	sort.Strings(ids)
	total := len(ids)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}

	out := make([]*model.APIKey, 0, end-start)
	for _, id := range ids[start:end] {
		key, err := m.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Orphaned index entry; the cleanup sweep removes it.
				continue
			}
			return nil, 0, err
		}
		out = append(out, key)
	}
	return out, total, nil
}

// Update merges the partial request into the record and re-validates the
// resulting shape. Status changes move the id between index sets.
func (m *RedisManager) Update(ctx context.Context, id string, req UpdateRequest) (*model.APIKey, error) {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	key := &rec.Key

	oldStatus := key.Status
	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.Permissions != nil {
		key.Permissions = req.Permissions
	}
	if req.Quota != nil {
		key.Quota = *req.Quota
	}
	if req.Status != nil {
		if !canTransition(oldStatus, *req.Status) {
			if oldStatus == model.KeyStatusRevoked {
				return nil, ErrRevoked
			}
			return nil, fmt.Errorf("%w: illegal status transition %s -> %s", ErrValidation, oldStatus, *req.Status)
		}
		if *req.Status == model.KeyStatusRevoked {
			return nil, fmt.Errorf("%w: use revoke to terminate a key", ErrValidation)
		}
		key.Status = *req.Status
	}
	for k, v := range req.Metadata {
		if key.Metadata == nil {
			key.Metadata = make(map[string]string)
		}
		key.Metadata[k] = v
	}

	if err := validateShape(key.Name, key.Permissions, &key.Quota, 0); err != nil {
		return nil, err
	}
	key.UpdatedAt = m.now()

	if err := m.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	if key.Status != oldStatus {
		if err := m.moveIndex(ctx, id, oldStatus, key.Status); err != nil {
			return nil, err
		}
	}
	m.logger.Info("api key updated", "key_id", id, "status", key.Status)
	out := *key
	return &out, nil
}

// Revoke is the one-way terminal transition. The lookup entry is removed so
// the secret can never validate again.
func (m *RedisManager) Revoke(ctx context.Context, id, actor string) error {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return err
	}
	key := &rec.Key
	if key.Status == model.KeyStatusRevoked {
		return ErrRevoked
	}

	oldStatus := key.Status
	key.Status = model.KeyStatusRevoked
	key.UpdatedAt = m.now()
	if key.Metadata == nil {
		key.Metadata = make(map[string]string)
	}
	key.Metadata["revoked_by"] = actor
	key.Metadata["revoked_at"] = key.UpdatedAt.UTC().Format(time.RFC3339)

	if err := m.writeRecord(ctx, rec); err != nil {
		return err
	}
	if err := m.moveIndex(ctx, id, oldStatus, model.KeyStatusRevoked); err != nil {
		return err
	}
	if rec.LookupDigest != "" {
		if err := m.store.Delete(ctx, lookupKey(rec.LookupDigest)); err != nil {
			m.logger.Warn("failed to delete lookup entry on revoke", "key_id", id, "error", err)
		}
	}
	m.logger.Info("api key revoked", "key_id", id, "actor", actor)
	return nil
}

// Rotate issues a new secret while preserving the key's identity, quota and
// history. The store has no multi-key transaction, so the write-new /
// delete-old pair is explicitly checked for partial failure and alerted on.
func (m *RedisManager) Rotate(ctx context.Context, id, actor string) (*CreatedKey, error) {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Key.Status == model.KeyStatusRevoked {
		return nil, ErrRevoked
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	hash, err := hashSecret(secret)
	if err != nil {
		return nil, err
	}

	oldDigest := rec.LookupDigest
	newDigest := lookupDigest(secret)

	rec.SecretHash = hash
	rec.LookupDigest = newDigest
	rec.Key.UpdatedAt = m.now()
	if rec.Key.Metadata == nil {
		rec.Key.Metadata = make(map[string]string)
	}
	rec.Key.Metadata["rotated_by"] = actor
	rec.Key.Metadata["rotated_at"] = rec.Key.UpdatedAt.UTC().Format(time.RFC3339)

	// Order matters: new lookup entry, then the record, then retire the old
	// entry. Until the record write the old secret still verifies; after it
	// the new one does, so at every point at least one secret resolves. Any
	// failure past the first write is a partial state and is alerted rather
	// than ignored.
	ok, err := m.store.SetNX(ctx, lookupKey(newDigest), id, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to write new lookup entry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lookup digest collision for key %s", id)
	}
	if err := m.writeRecord(ctx, rec); err != nil {
		m.raiseRotationAlert(ctx, id, err)
		return nil, fmt.Errorf("%w: record update failed: %v", ErrRotationPartial, err)
	}
	if oldDigest != "" && oldDigest != newDigest {
		if err := m.store.Delete(ctx, lookupKey(oldDigest)); err != nil {
			m.raiseRotationAlert(ctx, id, err)
			return nil, fmt.Errorf("%w: old lookup entry not deleted: %v", ErrRotationPartial, err)
		}
	}

	m.logger.Info("api key rotated", "key_id", id, "actor", actor)
	key := rec.Key
	return &CreatedKey{Key: &key, Secret: secret}, nil
}

func (m *RedisManager) raiseRotationAlert(ctx context.Context, id string, cause error) {
	m.logger.Error("api key rotation partially applied", "key_id", id, "error", cause)
	if m.alerts == nil {
		return
	}
	m.alerts.Alert(ctx, model.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      model.EventRotationAlert,
		Severity:  model.SeverityHigh,
		Timestamp: m.now(),
		Details: map[string]string{
			"key_id": id,
			"cause":  cause.Error(),
		},
	})
}

// Analytics aggregates the usage counters fed by RecordUsage and
// RecordRateLimitHit.
func (m *RedisManager) Analytics(ctx context.Context, id string, days int) (*model.KeyAnalytics, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	if days < 1 || days > 90 {
		days = 7
	}

	totals, err := m.store.HGetAll(ctx, usageKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read usage counters: %w", err)
	}
	daily, err := m.store.HGetAll(ctx, dailyKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read daily series: %w", err)
	}
	endpoints, err := m.store.HGetAll(ctx, endpointsKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoint counters: %w", err)
	}

	out := &model.KeyAnalytics{
		KeyID:         id,
		TotalRequests: parseCounter(totals["total"]),
		Successful:    parseCounter(totals["success"]),
		Failed:        parseCounter(totals["failed"]),
		RateLimited:   parseCounter(totals["rate_limited"]),
	}

	now := m.now().UTC()
	for i := days - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		out.DailySeries = append(out.DailySeries, model.DailyUsage{
			Date:  date,
			Count: parseCounter(daily[date]),
		})
	}

	for ep, v := range endpoints {
		out.TopEndpoints = append(out.TopEndpoints, model.EndpointUsage{Endpoint: ep, Count: parseCounter(v)})
	}
	sort.Slice(out.TopEndpoints, func(i, j int) bool {
		if out.TopEndpoints[i].Count == out.TopEndpoints[j].Count {
			return out.TopEndpoints[i].Endpoint < out.TopEndpoints[j].Endpoint
		}
		return out.TopEndpoints[i].Count > out.TopEndpoints[j].Count
	})
	if len(out.TopEndpoints) > 10 {
		out.TopEndpoints = out.TopEndpoints[:10]
	}
	return out, nil
}

// RecordUsage accumulates per-key analytics. Best-effort; failures are
// logged and never surface to the request path.
func (m *RedisManager) RecordUsage(ctx context.Context, id, endpoint string, success bool) {
	m.async(func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		date := m.now().UTC().Format("2006-01-02")
		field := "failed"
		if success {
			field = "success"
		}
		var err error
		if _, e := m.store.HIncrBy(bg, usageKey(id), "total", 1); e != nil {
			err = e
		}
		if _, e := m.store.HIncrBy(bg, usageKey(id), field, 1); e != nil && err == nil {
			err = e
		}
		if _, e := m.store.HIncrBy(bg, dailyKey(id), date, 1); e != nil && err == nil {
			err = e
		}
		if endpoint != "" {
			if _, e := m.store.HIncrBy(bg, endpointsKey(id), endpoint, 1); e != nil && err == nil {
				err = e
			}
		}
		if err != nil {
			m.logger.Debug("failed to record key usage", "key_id", id, "error", err)
		}
	})
}

// RecordRateLimitHit counts a throttled request against the key.
func (m *RedisManager) RecordRateLimitHit(ctx context.Context, id string) {
	m.async(func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := m.store.HIncrBy(bg, usageKey(id), "rate_limited", 1); err != nil {
			m.logger.Debug("failed to record rate limit hit", "key_id", id, "error", err)
		}
	})
}

// Cleanup sweeps all status indices, removing orphaned entries and revoking
// keys past their expiry. Idempotent; safe to run from every instance.
func (m *RedisManager) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	for _, status := range []model.KeyStatus{model.KeyStatusActive, model.KeyStatusInactive, model.KeyStatusRevoked} {
		ids, err := m.store.SMembers(ctx, indexKey(status))
		if err != nil {
			return removed, fmt.Errorf("failed to read %s index: %w", status, err)
		}
		for _, id := range ids {
			key, err := m.Get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				if err := m.store.SRem(ctx, indexKey(status), id); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			if err != nil {
				return removed, err
			}
			if status != model.KeyStatusRevoked && key.Expired(m.now()) {
				if err := m.Revoke(ctx, id, "cleanup"); err != nil && !errors.Is(err, ErrRevoked) {
					return removed, err
				}
				removed++
			}
		}
	}
	if removed > 0 {
		m.logger.Info("key cleanup sweep finished", "removed", removed)
	}
	return removed, nil
}

func (m *RedisManager) writeRecord(ctx context.Context, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}
	payload := string(raw)
	if m.codec != nil {
		sealed, err := m.codec.Encrypt(raw)
		if err != nil {
			return fmt.Errorf("failed to seal key record: %w", err)
		}
		payload = base64.StdEncoding.EncodeToString(sealed)
	}
	if err := m.store.Set(ctx, recordKey(rec.Key.ID), payload, 0); err != nil {
		return fmt.Errorf("failed to store key record: %w", err)
	}
	return nil
}

func (m *RedisManager) moveIndex(ctx context.Context, id string, from, to model.KeyStatus) error {
	if err := m.store.SRem(ctx, indexKey(from), id); err != nil {
		return fmt.Errorf("failed to remove key from %s index: %w", from, err)
	}
	if err := m.store.SAdd(ctx, indexKey(to), id); err != nil {
		return fmt.Errorf("failed to add key to %s index: %w", to, err)
	}
	return nil
}

func (m *RedisManager) async(fn func()) {
	if m.syncWrites {
		fn()
		return
	}
	go fn()
}

func parseCounter(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
