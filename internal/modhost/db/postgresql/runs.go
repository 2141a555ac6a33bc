package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

const moduleRunColumns = `id, tenant_id, module_name, input, status, result, error, timestamp`

func scanModuleRun(row rowScanner) (*models.ModuleRun, error) {
	var r models.ModuleRun
	var input, result []byte
	if err := row.Scan(&r.ID, &r.TenantID, &r.ModuleName, &input, &r.Status, &result, &r.Error, &r.Timestamp); err != nil {
		return nil, err
	}
	r.Input = input
	if len(result) > 0 {
		r.Result = result
	}
	return &r, nil
}

func (s *Store) CreateModuleRun(ctx context.Context, run *models.ModuleRun) apperrors.Error {
	if run.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if run.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("run id is required")
	}
	input := run.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	query := `
		INSERT INTO module_runs (id, tenant_id, module_name, input, status, result, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING timestamp
	`
	err := s.db.QueryRowContext(ctx, query,
		run.ID, run.TenantID, run.ModuleName, string(input), run.Status, jsonParam(run.Result), run.Error,
	).Scan(&run.Timestamp)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("module", run.ModuleName).Msg("failed to insert module run")
		return mapPgError(err, "module run")
	}
	return nil
}

func (s *Store) GetModuleRun(ctx context.Context, tenantID string, id uuid.UUID) (*models.ModuleRun, apperrors.Error) {
	query := `SELECT ` + moduleRunColumns + ` FROM module_runs WHERE id = $1 AND tenant_id = $2`
	r, err := scanModuleRun(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("module run not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get module run")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return r, nil
}

// ListModuleRuns returns the newest runs of moduleName first.
func (s *Store) ListModuleRuns(ctx context.Context, tenantID, moduleName string, limit int) ([]*models.ModuleRun, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	query := `
		SELECT ` + moduleRunColumns + `
		FROM module_runs
		WHERE tenant_id = $1 AND module_name = $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, moduleName, clampLimit(limit))
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.ModuleRun{}
	for rows.Next() {
		r, err := scanModuleRun(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}
