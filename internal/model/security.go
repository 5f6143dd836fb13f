package model

import "time"

// EventType labels the heuristic that produced a security event.
type EventType string

const (
	EventIPBlocked      EventType = "ip_blocked"
	EventFlood          EventType = "flood"
	EventBruteForce     EventType = "brute_force"
	EventInjection      EventType = "injection"
	EventStaleSignature EventType = "stale_signature"
	EventSuspicious     EventType = "suspicious"
	EventRotationAlert  EventType = "rotation_alert"
	EventHandlerError   EventType = "handler_error"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only record of a blocking decision or a
// soft-monitoring hit.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	SourceIP  string            `json:"source_ip"`
	Endpoint  string            `json:"endpoint"`
	Details   map[string]string `json:"details,omitempty"`
	Blocked   bool              `json:"blocked"`
}

// IPIntelligence is cached per-IP reputation data.
type IPIntelligence struct {
	IP          string    `json:"ip"`
	Country     string    `json:"country"`
	IsProxy     bool      `json:"is_proxy"`
	IsVPN       bool      `json:"is_vpn"`
	IsTor       bool      `json:"is_tor"`
	ThreatLevel int       `json:"threat_level"` // 0-100
	FetchedAt   time.Time `json:"fetched_at"`
}
