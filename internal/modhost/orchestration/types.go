package orchestration

import (
	"encoding/json"

	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

// Request is the body of create and update. Update replaces both fields.
type Request struct {
	Name     string        `json:"name"`
	Pipeline []models.Step `json:"pipeline"`
}

// Step outcome statuses.
const (
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
)

// RunStatusTriggered is reported for every completed trigger, whatever the
// individual step outcomes.
const RunStatusTriggered = "triggered"

// StepOutcome records what one step did.
type StepOutcome struct {
	Module string          `json:"module"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Run is the transient record of one trigger.
type Run struct {
	OrchestrationID uuid.UUID     `json:"orchestration_id"`
	Status          string        `json:"status"`
	Outcomes        []StepOutcome `json:"outcomes"`
}
