package models

import (
	"encoding/json"
	"time"
)

// ModuleDescriptor is a registered module. Name is global across tenants.
type ModuleDescriptor struct {
	Name         string          `db:"name" json:"name"`
	Image        string          `db:"image" json:"image"`
	Description  string          `db:"description" json:"description"`
	ConfigSchema json.RawMessage `db:"config_schema" json:"config_schema,omitempty"`
	Kind         string          `db:"kind" json:"kind"`
	Port         int             `db:"port" json:"port"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TenantModule links a tenant to an active module with its config.
type TenantModule struct {
	TenantID   string          `db:"tenant_id" json:"tenant_id"`
	ModuleName string          `db:"module_name" json:"module_name"`
	Config     json.RawMessage `db:"config" json:"config"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
