// Package events appends audit entries and usage metrics. Appends are best
// effort: a failed write is logged and never fails the operation that caused
// it.
package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

type Recorder struct {
	store db.EventStore
}

func NewRecorder(store db.EventStore) *Recorder {
	return &Recorder{store: store}
}

// Audit records that userID performed action within tenantID. details is
// encoded as JSON; nil is stored as an empty object.
func (r *Recorder) Audit(ctx context.Context, tenantID, userID, action string, details any) {
	if r == nil || r.store == nil {
		return
	}
	raw := json.RawMessage("{}")
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("action", action).Msg("unable to encode audit details")
		} else {
			raw = b
		}
	}
	e := &models.AuditEvent{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Action:   action,
		Details:  raw,
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("tenant_id", tenantID).
			Str("action", action).
			Msg("failed to append audit entry")
	}
}

// Usage records one usage sample for tenantID.
func (r *Recorder) Usage(ctx context.Context, tenantID, metric string, value float64) {
	if r == nil || r.store == nil {
		return
	}
	m := &models.UsageMetric{
		ID:         uuid.New(),
		TenantID:   tenantID,
		MetricName: metric,
		Value:      value,
	}
	if err := r.store.AppendUsage(ctx, m); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("tenant_id", tenantID).
			Str("metric", metric).
			Msg("failed to append usage metric")
	}
}

func (r *Recorder) ListAudit(ctx context.Context, tenantID string, limit int) ([]*models.AuditEvent, apperrors.Error) {
	return r.store.ListAudit(ctx, tenantID, limit)
}

func (r *Recorder) ListUsage(ctx context.Context, tenantID string, limit int) ([]*models.UsageMetric, apperrors.Error) {
	return r.store.ListUsage(ctx, tenantID, limit)
}
