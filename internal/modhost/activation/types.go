package activation

import (
	"encoding/json"
)

// RegisterRequest is the body of a module registration.
type RegisterRequest struct {
	Name         string          `json:"name" validate:"required,resourcename"`
	Image        string          `json:"image" validate:"required"`
	Description  string          `json:"description"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	Kind         string          `json:"kind" validate:"moduleKind"`
	Port         int             `json:"port" validate:"gte=0,lte=65535"`
}

type RegisterResult struct {
	Status string `json:"status"`
	Module string `json:"module"`
}

// ActivateRequest is the body of an activation. Config must satisfy the
// module's config schema.
type ActivateRequest struct {
	Config json.RawMessage `json:"config"`
}

// Workload states reported by Activate and Reconcile.
const (
	WorkloadCreated        = "created"
	WorkloadStarted        = "started"
	WorkloadRecreated      = "recreated"
	WorkloadAlreadyRunning = "already running"
	WorkloadRemoved        = "removed"
	WorkloadAbsent         = "absent"
)

// Result describes the outcome of a lifecycle operation.
type Result struct {
	Status   string `json:"status"`
	Module   string `json:"module"`
	Tenant   string `json:"tenant"`
	Workload string `json:"workload"`
	State    string `json:"state,omitempty"`
	Info     string `json:"info,omitempty"`
}

// InfoWorkloadNotFound is reported when deactivation finds nothing to stop.
const InfoWorkloadNotFound = "Container not found, removed from DB."
