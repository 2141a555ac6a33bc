package models

import (
	"encoding/json"
	"time"

	"github.com/tansive/modhost/internal/common/uuid"
)

// Step is one module invocation within a pipeline.
type Step struct {
	Module string          `json:"module"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Orchestration is a tenant-owned ordered pipeline. The pipeline is stored as
// a JSON array and always replaced as a whole.
type Orchestration struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	Pipeline  []Step    `db:"pipeline" json:"pipeline"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Modules returns the distinct module names referenced by the pipeline.
func (o *Orchestration) Modules() []string {
	seen := make(map[string]struct{}, len(o.Pipeline))
	var names []string
	for _, s := range o.Pipeline {
		if _, ok := seen[s.Module]; ok {
			continue
		}
		seen[s.Module] = struct{}{}
		names = append(names, s.Module)
	}
	return names
}
