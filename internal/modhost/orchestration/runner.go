package orchestration

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
)

// RunStore is the part of the registry the runner needs.
type RunStore interface {
	db.ModuleRegistry
	db.ModuleRunStore
}

// Runner invokes a single module outside any pipeline and keeps the result.
// Like a pipeline step, a failed invocation is stored and returned as a run
// with status failed rather than as an error.
type Runner struct {
	store    RunStore
	invoker  Invoker
	recorder *events.Recorder
	metrics  *metrics.Metrics
}

func NewRunner(store RunStore, invoker Invoker, recorder *events.Recorder, m *metrics.Metrics) *Runner {
	return &Runner{store: store, invoker: invoker, recorder: recorder, metrics: m}
}

func runInput(raw json.RawMessage) (json.RawMessage, apperrors.Error) {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}"), nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ErrInvalidInput
	}
	return raw, nil
}

// Run invokes moduleName with input through the invoker for its kind.
func (r *Runner) Run(ctx context.Context, tenantID, userID, moduleName string, input json.RawMessage) (*models.ModuleRun, apperrors.Error) {
	if !schemavalidator.ValidResourceName(moduleName) {
		return nil, ErrValidation.Msg("invalid module name: " + moduleName)
	}
	input, err := runInput(input)
	if err != nil {
		return nil, err
	}
	module, err := r.store.GetModule(ctx, moduleName)
	if err != nil {
		return nil, err
	}

	run := &models.ModuleRun{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ModuleName: moduleName,
		Input:      input,
	}
	result, ierr := r.invoker.Invoke(ctx, tenantID, module, &models.Step{Module: moduleName, Config: input})
	run.Result = result
	if ierr != nil {
		run.Status = StepFailed
		run.Error = stepErrorText(ierr)
		log.Ctx(ctx).Warn().Err(ierr).
			Str("tenant_id", tenantID).
			Str("module", moduleName).
			Msg("module run failed")
	} else {
		run.Status = StepSucceeded
	}
	r.metrics.PipelineStep(module.Kind, run.Status)

	if err := r.store.CreateModuleRun(ctx, run); err != nil {
		return nil, err
	}
	r.recorder.Audit(ctx, tenantID, userID, modcommon.ActionRunModule, map[string]string{
		"module_name": moduleName,
		"run_id":      run.ID.String(),
		"status":      run.Status,
	})
	return run, nil
}

// ListRuns returns the newest runs of moduleName for the tenant.
func (r *Runner) ListRuns(ctx context.Context, tenantID, moduleName string, limit int) ([]*models.ModuleRun, apperrors.Error) {
	return r.store.ListModuleRuns(ctx, tenantID, moduleName, limit)
}

// GetRun returns one run. A run of another module is reported as not found.
func (r *Runner) GetRun(ctx context.Context, tenantID, moduleName string, id uuid.UUID) (*models.ModuleRun, apperrors.Error) {
	run, err := r.store.GetModuleRun(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if run.ModuleName != moduleName {
		return nil, dberror.ErrNotFound.Msg("module run not found")
	}
	return run, nil
}
