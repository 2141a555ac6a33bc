package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

const moduleColumns = `name, image, description, config_schema, kind, port, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*models.ModuleDescriptor, error) {
	var m models.ModuleDescriptor
	var schema []byte
	if err := row.Scan(&m.Name, &m.Image, &m.Description, &schema, &m.Kind, &m.Port, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.ConfigSchema = schema
	return &m, nil
}

// UpsertModule inserts the descriptor or replaces every field of an existing
// one with the same name.
func (s *Store) UpsertModule(ctx context.Context, m *models.ModuleDescriptor) apperrors.Error {
	query := `
		INSERT INTO modules_registry (name, image, description, config_schema, kind, port)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET image = EXCLUDED.image,
			description = EXCLUDED.description,
			config_schema = EXCLUDED.config_schema,
			kind = EXCLUDED.kind,
			port = EXCLUDED.port,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		m.Name, m.Image, m.Description, jsonParam(m.ConfigSchema), m.Kind, m.Port,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("module", m.Name).Msg("failed to upsert module")
		return mapPgError(err, "module")
	}
	return nil
}

func (s *Store) GetModule(ctx context.Context, name string) (*models.ModuleDescriptor, apperrors.Error) {
	query := `SELECT ` + moduleColumns + ` FROM modules_registry WHERE name = $1`
	m, err := scanModule(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("module " + name + " not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("module", name).Msg("failed to get module")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return m, nil
}

func (s *Store) ListModules(ctx context.Context) ([]*models.ModuleDescriptor, apperrors.Error) {
	query := `SELECT ` + moduleColumns + ` FROM modules_registry ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.ModuleDescriptor{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan module row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

// MissingModules returns the names from the input that are not registered.
func (s *Store) MissingModules(ctx context.Context, names []string) ([]string, apperrors.Error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM modules_registry WHERE name = ANY($1)`, pq.Array(names))
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		found[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	var missing []string
	for _, n := range names {
		if _, ok := found[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}
