package models

import (
	"encoding/json"
	"time"

	"github.com/tansive/modhost/internal/common/uuid"
)

type AuditEvent struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details"`
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
}

type UsageMetric struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	MetricName string    `db:"metric_name" json:"metric_name"`
	Value      float64   `db:"value" json:"value"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}
