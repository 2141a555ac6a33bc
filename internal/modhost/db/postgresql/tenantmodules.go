package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

// UpsertTenantModule writes the link in one transaction with a shared lock on
// the descriptor, so a link can only be created for a registered module. It
// returns the descriptor as seen inside the transaction.
func (s *Store) UpsertTenantModule(ctx context.Context, link *models.TenantModule) (*models.ModuleDescriptor, apperrors.Error) {
	if link.TenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	if len(link.Config) == 0 {
		link.Config = []byte("{}")
	}

	var descriptor *models.ModuleDescriptor
	err := s.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		query := `SELECT ` + moduleColumns + ` FROM modules_registry WHERE name = $1 FOR SHARE`
		m, err := scanModule(tx.QueryRowContext(ctx, query, link.ModuleName))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return dberror.ErrNotFound.Msg("module " + link.ModuleName + " not found")
			}
			return dberror.ErrDatabase.Err(err)
		}
		descriptor = m

		query = `
			INSERT INTO tenant_modules (tenant_id, module_name, config)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, module_name) DO UPDATE
			SET config = EXCLUDED.config,
				updated_at = NOW()
			RETURNING created_at, updated_at
		`
		err = tx.QueryRowContext(ctx, query, link.TenantID, link.ModuleName, string(link.Config)).
			Scan(&link.CreatedAt, &link.UpdatedAt)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to upsert tenant module")
			return mapPgError(err, "tenant module")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return descriptor, nil
}

func (s *Store) GetTenantModule(ctx context.Context, tenantID, moduleName string) (*models.TenantModule, apperrors.Error) {
	query := `
		SELECT tenant_id, module_name, config, created_at, updated_at
		FROM tenant_modules
		WHERE tenant_id = $1 AND module_name = $2
	`
	var link models.TenantModule
	var cfg []byte
	err := s.db.QueryRowContext(ctx, query, tenantID, moduleName).
		Scan(&link.TenantID, &link.ModuleName, &cfg, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("module " + moduleName + " is not active")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	link.Config = cfg
	return &link, nil
}

func (s *Store) DeleteTenantModule(ctx context.Context, tenantID, moduleName string) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_modules WHERE tenant_id = $1 AND module_name = $2`, tenantID, moduleName)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete tenant module")
		return dberror.ErrDatabase.Err(err)
	}
	return checkRowsAffected(result, "tenant module")
}

func (s *Store) ListTenantModules(ctx context.Context, tenantID string) ([]*models.TenantModule, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	query := `
		SELECT tenant_id, module_name, config, created_at, updated_at
		FROM tenant_modules
		WHERE tenant_id = $1
		ORDER BY module_name
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.TenantModule{}
	for rows.Next() {
		var link models.TenantModule
		var cfg []byte
		if err := rows.Scan(&link.TenantID, &link.ModuleName, &cfg, &link.CreatedAt, &link.UpdatedAt); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan tenant module row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		link.Config = cfg
		result = append(result, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}
