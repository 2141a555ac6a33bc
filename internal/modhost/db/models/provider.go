package models

import (
	"time"

	"github.com/tansive/modhost/internal/common/uuid"
)

// Provider is the durable part of a tenant integration. Its credentials live
// in the secret broker, never here.
type Provider struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
