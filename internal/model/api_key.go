package model

import (
	"encoding/json"
	"time"
)

// KeyStatus is the lifecycle state of an API key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
	KeyStatusRevoked  KeyStatus = "revoked"
)

// Valid reports whether s is a known key status.
func (s KeyStatus) Valid() bool {
	switch s {
	case KeyStatusActive, KeyStatusInactive, KeyStatusRevoked:
		return true
	}
	return false
}

// Quota is a fixed-window request allowance. On the wire the window is
// expressed in whole seconds.
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

type quotaJSON struct {
	MaxRequests   int   `json:"max_requests"`
	WindowSeconds int64 `json:"window_seconds"`
}

func (q Quota) MarshalJSON() ([]byte, error) {
	return json.Marshal(quotaJSON{
		MaxRequests:   q.MaxRequests,
		WindowSeconds: int64(q.Window / time.Second),
	})
}

func (q *Quota) UnmarshalJSON(data []byte) error {
	var raw quotaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.MaxRequests = raw.MaxRequests
	q.Window = time.Duration(raw.WindowSeconds) * time.Second
	return nil
}

// APIKey is a long-lived credential issued to an internal caller. The
// plaintext secret is returned exactly once at creation/rotation and is never
// persisted; verification material lives in the key manager's private store
// record, keyed by a SHA-256 digest of the secret.
type APIKey struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Permissions []string          `json:"permissions"`
	Quota       Quota             `json:"quota"`
	Status      KeyStatus         `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
}

// Expired reports whether the key is past its expiry, if one is set.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HasPermission reports whether the key grants perm. A "*" entry grants all.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// KeyAnalytics is the aggregate usage view for a single key.
type KeyAnalytics struct {
	KeyID         string          `json:"key_id"`
	TotalRequests int64           `json:"total_requests"`
	Successful    int64           `json:"successful"`
	Failed        int64           `json:"failed"`
	RateLimited   int64           `json:"rate_limited"`
	DailySeries   []DailyUsage    `json:"daily_series"`
	TopEndpoints  []EndpointUsage `json:"top_endpoints"`
}

// DailyUsage is one bucket of the rolling usage series.
type DailyUsage struct {
	Date  string `json:"date"` // YYYY-MM-DD (UTC)
	Count int64  `json:"count"`
}

// EndpointUsage is a per-endpoint call count.
type EndpointUsage struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}
