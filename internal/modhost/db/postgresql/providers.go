package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

func (s *Store) CreateProvider(ctx context.Context, p *models.Provider) apperrors.Error {
	if p.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if p.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("provider id is required")
	}
	query := `
		INSERT INTO providers (id, tenant_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query, p.ID, p.TenantID, p.Name).Scan(&p.CreatedAt); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("provider", p.Name).Msg("failed to insert provider")
		return mapPgError(err, "provider")
	}
	return nil
}

func (s *Store) GetProvider(ctx context.Context, tenantID, name string) (*models.Provider, apperrors.Error) {
	query := `SELECT id, tenant_id, name, created_at FROM providers WHERE tenant_id = $1 AND name = $2`
	var p models.Provider
	err := s.db.QueryRowContext(ctx, query, tenantID, name).Scan(&p.ID, &p.TenantID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("provider " + name + " not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &p, nil
}

func (s *Store) ListProviders(ctx context.Context, tenantID string) ([]*models.Provider, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, created_at FROM providers WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.Provider{}
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.CreatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

func (s *Store) DeleteProvider(ctx context.Context, tenantID, name string) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return checkRowsAffected(result, "provider")
}
