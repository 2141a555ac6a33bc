package postgresql

import (
	"context"

	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

const maxListLimit = 1000

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return 100
	}
	return limit
}

func (s *Store) AppendAudit(ctx context.Context, e *models.AuditEvent) apperrors.Error {
	query := `
		INSERT INTO audit_log (id, tenant_id, user_id, action, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp
	`
	if err := s.db.QueryRowContext(ctx, query, e.ID, e.TenantID, e.UserID, e.Action, jsonParam(e.Details)).
		Scan(&e.Timestamp); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// ListAudit returns the newest events first.
func (s *Store) ListAudit(ctx context.Context, tenantID string, limit int) ([]*models.AuditEvent, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	query := `
		SELECT id, tenant_id, user_id, action, details, timestamp
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, clampLimit(limit))
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Action, &details, &e.Timestamp); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		e.Details = details
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

func (s *Store) AppendUsage(ctx context.Context, m *models.UsageMetric) apperrors.Error {
	query := `
		INSERT INTO usage_metrics (id, tenant_id, metric_name, value)
		VALUES ($1, $2, $3, $4)
		RETURNING timestamp
	`
	if err := s.db.QueryRowContext(ctx, query, m.ID, m.TenantID, m.MetricName, m.Value).Scan(&m.Timestamp); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// ListUsage returns the newest metrics first.
func (s *Store) ListUsage(ctx context.Context, tenantID string, limit int) ([]*models.UsageMetric, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	query := `
		SELECT id, tenant_id, metric_name, value, timestamp
		FROM usage_metrics
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, clampLimit(limit))
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := []*models.UsageMetric{}
	for rows.Next() {
		var m models.UsageMetric
		if err := rows.Scan(&m.ID, &m.TenantID, &m.MetricName, &m.Value, &m.Timestamp); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}
