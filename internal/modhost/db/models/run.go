package models

import (
	"encoding/json"
	"time"

	"github.com/tansive/modhost/internal/common/uuid"
)

// ModuleRun is the stored result of running a module directly, outside a
// pipeline.
type ModuleRun struct {
	ID         uuid.UUID       `db:"id" json:"run_id"`
	TenantID   string          `db:"tenant_id" json:"tenant_id"`
	ModuleName string          `db:"module_name" json:"module"`
	Input      json.RawMessage `db:"input" json:"input"`
	Status     string          `db:"status" json:"status"`
	Result     json.RawMessage `db:"result" json:"result,omitempty"`
	Error      string          `db:"error" json:"error,omitempty"`
	Timestamp  time.Time       `db:"timestamp" json:"timestamp"`
}
