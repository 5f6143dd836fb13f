// Package audit keeps the durable trail of blocking decisions and handler
// failures in a relational database. Writes are best-effort and happen off
// the request path; the shared counter store remains the authority for
// online decisions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetgate/internal/config"
	"fleetgate/internal/model"
)

// SecurityEventRow is the persisted form of a security event.
type SecurityEventRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Type      string    `gorm:"type:varchar(50);index;not null"`
	Severity  string    `gorm:"type:varchar(20);index;not null"`
	Timestamp time.Time `gorm:"index;not null"`
	SourceIP  string    `gorm:"type:varchar(64);index"`
	Endpoint  string    `gorm:"type:varchar(255)"`
	Details   string    `gorm:"type:text"`
	Blocked   bool      `gorm:"index"`
}

// HandlerErrorRow records a downstream handler failure keyed by request id.
type HandlerErrorRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	RequestID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Endpoint  string    `gorm:"type:varchar(255)"`
	Message   string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index;not null"`
}

// Trail is the audit store handle.
type Trail struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.AuditConfig, log *slog.Logger) (*Trail, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if err := db.AutoMigrate(&SecurityEventRow{}, &HandlerErrorRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return &Trail{db: db, logger: log.With("component", "audit")}, nil
}

// NewWithDB wraps an existing gorm handle, for tests.
func NewWithDB(db *gorm.DB, log *slog.Logger) (*Trail, error) {
	if err := db.AutoMigrate(&SecurityEventRow{}, &HandlerErrorRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return &Trail{db: db, logger: log.With("component", "audit")}, nil
}

// Record persists a security event. Satisfies threat.EventSink. Failures
// are logged and swallowed.
func (t *Trail) Record(ctx context.Context, event model.SecurityEvent) {
	details, _ := json.Marshal(event.Details)
	row := SecurityEventRow{
		ID:        event.ID,
		Type:      string(event.Type),
		Severity:  string(event.Severity),
		Timestamp: event.Timestamp,
		SourceIP:  event.SourceIP,
		Endpoint:  event.Endpoint,
		Details:   string(details),
		Blocked:   event.Blocked,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		t.logger.Warn("failed to persist security event", "event_id", event.ID, "error", err)
	}
}

// RecordHandlerError persists a handler failure keyed by request id.
func (t *Trail) RecordHandlerError(ctx context.Context, requestID, endpoint, message string) {
	row := HandlerErrorRow{
		RequestID: requestID,
		Endpoint:  endpoint,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		t.logger.Warn("failed to persist handler error", "request_id", requestID, "error", err)
	}
}

// RecentEvents returns the newest n security event rows.
func (t *Trail) RecentEvents(ctx context.Context, n int) ([]SecurityEventRow, error) {
	if n <= 0 || n > 1000 {
		n = 100
	}
	var rows []SecurityEventRow
	err := t.db.WithContext(ctx).
		Order("timestamp desc").
		Limit(n).
		Find(&rows).Error
	return rows, err
}

// EventsByType returns events of one type within [from, to].
func (t *Trail) EventsByType(ctx context.Context, typ string, from, to time.Time) ([]SecurityEventRow, error) {
	var rows []SecurityEventRow
	err := t.db.WithContext(ctx).
		Where("type = ? AND timestamp BETWEEN ? AND ?", typ, from, to).
		Order("timestamp desc").
		Find(&rows).Error
	return rows, err
}

// Trim deletes rows older than the retention horizon and returns the number
// removed.
func (t *Trail) Trim(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := t.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&SecurityEventRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to trim audit trail: %w", res.Error)
	}
	removed := res.RowsAffected
	res = t.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&HandlerErrorRow{})
	if res.Error != nil {
		return removed, fmt.Errorf("failed to trim handler errors: %w", res.Error)
	}
	return removed + res.RowsAffected, nil
}
