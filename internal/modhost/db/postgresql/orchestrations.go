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

const orchestrationColumns = `id, tenant_id, name, pipeline, created_at, updated_at`

func scanOrchestration(row rowScanner) (*models.Orchestration, error) {
	var o models.Orchestration
	var pipeline []byte
	if err := row.Scan(&o.ID, &o.TenantID, &o.Name, &pipeline, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Pipeline = []models.Step{}
	if len(pipeline) > 0 {
		if err := json.Unmarshal(pipeline, &o.Pipeline); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func pipelineParam(steps []models.Step) (string, apperrors.Error) {
	if steps == nil {
		steps = []models.Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", dberror.ErrInvalidInput.Msg("unable to encode pipeline")
	}
	return string(b), nil
}

func (s *Store) CreateOrchestration(ctx context.Context, o *models.Orchestration) apperrors.Error {
	if o.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if o.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("orchestration id is required")
	}
	pipeline, aerr := pipelineParam(o.Pipeline)
	if aerr != nil {
		return aerr
	}
	query := `
		INSERT INTO module_orchestrations (id, tenant_id, name, pipeline)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, o.ID, o.TenantID, o.Name, pipeline).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to insert orchestration")
		return mapPgError(err, "orchestration")
	}
	return nil
}

func (s *Store) GetOrchestration(ctx context.Context, tenantID string, id uuid.UUID) (*models.Orchestration, apperrors.Error) {
	query := `SELECT ` + orchestrationColumns + ` FROM module_orchestrations WHERE id = $1 AND tenant_id = $2`
	o, err := scanOrchestration(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("orchestration not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get orchestration")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return o, nil
}

func (s *Store) ListOrchestrations(ctx context.Context, tenantID string) ([]*models.Orchestration, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	query := `SELECT ` + orchestrationColumns + ` FROM module_orchestrations WHERE tenant_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.Orchestration{}
	for rows.Next() {
		o, err := scanOrchestration(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan orchestration row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

// UpdateOrchestration replaces the name and the whole pipeline in a single
// statement.
func (s *Store) UpdateOrchestration(ctx context.Context, o *models.Orchestration) apperrors.Error {
	if o.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	pipeline, aerr := pipelineParam(o.Pipeline)
	if aerr != nil {
		return aerr
	}
	query := `
		UPDATE module_orchestrations
		SET name = $3,
			pipeline = $4,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, o.TenantID, o.ID, o.Name, pipeline).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("orchestration not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to update orchestration")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteOrchestration(ctx context.Context, tenantID string, id uuid.UUID) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM module_orchestrations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return checkRowsAffected(result, "orchestration")
}
