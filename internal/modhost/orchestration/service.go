// Package orchestration stores tenant pipelines of module steps and runs them.
// A run executes every step in stored order; a failing step is recorded and
// the run carries on with the next one.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

// Store is the part of the registry the orchestrator needs.
type Store interface {
	db.ModuleRegistry
	db.OrchestrationStore
}

type Service struct {
	store    Store
	invoker  Invoker
	recorder *events.Recorder
	metrics  *metrics.Metrics
}

func NewService(store Store, invoker Invoker, recorder *events.Recorder, m *metrics.Metrics) *Service {
	return &Service{store: store, invoker: invoker, recorder: recorder, metrics: m}
}

func (s *Service) validate(ctx context.Context, req *Request) apperrors.Error {
	if strings.TrimSpace(req.Name) == "" {
		return ErrValidation.Msg("name is required")
	}
	names := make([]string, 0, len(req.Pipeline))
	for i, step := range req.Pipeline {
		if step.Module == "" {
			return ErrValidation.Msg(fmt.Sprintf("step %d has no module", i))
		}
		names = append(names, step.Module)
	}
	missing, err := s.store.MissingModules(ctx, names)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return ErrUnknownModules.Msg("pipeline references unknown modules: " + strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, tenantID, userID string, req *Request) (*models.Orchestration, apperrors.Error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}
	o := &models.Orchestration{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     req.Name,
		Pipeline: req.Pipeline,
	}
	if err := s.store.CreateOrchestration(ctx, o); err != nil {
		return nil, err
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionCreateOrchestration, map[string]string{
		"orchestration_id": o.ID.String(),
		"name":             o.Name,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Orchestration, apperrors.Error) {
	return s.store.GetOrchestration(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]*models.Orchestration, apperrors.Error) {
	return s.store.ListOrchestrations(ctx, tenantID)
}

// Update replaces the name and the whole pipeline.
func (s *Service) Update(ctx context.Context, tenantID, userID string, id uuid.UUID, req *Request) (*models.Orchestration, apperrors.Error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}
	o := &models.Orchestration{
		ID:       id,
		TenantID: tenantID,
		Name:     req.Name,
		Pipeline: req.Pipeline,
	}
	if err := s.store.UpdateOrchestration(ctx, o); err != nil {
		return nil, err
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionUpdateOrchestration, map[string]string{
		"orchestration_id": id.String(),
	})
	return o, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, userID string, id uuid.UUID) apperrors.Error {
	if err := s.store.DeleteOrchestration(ctx, tenantID, id); err != nil {
		return err
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionDeleteOrchestration, map[string]string{
		"orchestration_id": id.String(),
	})
	return nil
}

// Trigger runs the pipeline. It fails only when the orchestration does not
// exist; step failures are reported in the outcomes.
func (s *Service) Trigger(ctx context.Context, tenantID, userID string, id uuid.UUID) (*Run, apperrors.Error) {
	o, err := s.store.GetOrchestration(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	run := &Run{
		OrchestrationID: o.ID,
		Status:          RunStatusTriggered,
		Outcomes:        make([]StepOutcome, 0, len(o.Pipeline)),
	}
	for i := range o.Pipeline {
		run.Outcomes = append(run.Outcomes, s.runStep(ctx, tenantID, &o.Pipeline[i]))
	}

	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionTriggerOrchestration, map[string]any{
		"orchestration_id": o.ID.String(),
		"steps":            len(run.Outcomes),
	})
	return run, nil
}

func (s *Service) runStep(ctx context.Context, tenantID string, step *models.Step) StepOutcome {
	outcome := StepOutcome{Module: step.Module}
	kind := "unknown"

	module, err := s.store.GetModule(ctx, step.Module)
	if err != nil {
		outcome.Status = StepFailed
		outcome.Error = err.Error()
		s.metrics.PipelineStep(kind, StepFailed)
		return outcome
	}
	kind = module.Kind

	result, ierr := s.invoker.Invoke(ctx, tenantID, module, step)
	outcome.Result = result
	if ierr != nil {
		outcome.Status = StepFailed
		outcome.Error = stepErrorText(ierr)
		log.Ctx(ctx).Warn().Err(ierr).
			Str("tenant_id", tenantID).
			Str("module", step.Module).
			Msg("pipeline step failed")
	} else {
		outcome.Status = StepSucceeded
	}
	s.metrics.PipelineStep(kind, outcome.Status)
	return outcome
}

func stepErrorText(err error) string {
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.ErrorAll()
	}
	return err.Error()
}
