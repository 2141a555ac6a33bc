// Package providers manages tenant integrations. The record lives in the
// registry; the credentials live only in the secret broker.
package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
	"github.com/tansive/modhost/internal/modhost/secrets"
)

var ErrInvalidProvider apperrors.Error = apperrors.New("invalid provider").SetStatusCode(http.StatusBadRequest)

// Request is the body of create and update.
type Request struct {
	Name   string         `json:"name"`
	Secret map[string]any `json:"secret"`
}

// View is a provider record joined with its secret payload.
type View struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Secret    map[string]any `json:"secret"`
}

type Service struct {
	store    db.ProviderStore
	broker   *secrets.Broker
	recorder *events.Recorder
}

func NewService(store db.ProviderStore, broker *secrets.Broker, recorder *events.Recorder) *Service {
	return &Service{store: store, broker: broker, recorder: recorder}
}

func (s *Service) Create(ctx context.Context, tenantID, userID string, req *Request) (*View, apperrors.Error) {
	if !schemavalidator.ValidResourceName(req.Name) {
		return nil, ErrInvalidProvider.Msg("invalid provider name: " + req.Name)
	}
	p := &models.Provider{ID: uuid.New(), TenantID: tenantID, Name: req.Name}
	if err := s.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	if err := s.broker.Put(ctx, tenantID, req.Name, req.Secret); err != nil {
		// a record without a secret would read back as an empty payload
		if derr := s.store.DeleteProvider(ctx, tenantID, req.Name); derr != nil {
			log.Ctx(ctx).Error().Err(derr).Str("provider", req.Name).Msg("failed to remove provider after secret write failure")
		}
		return nil, err
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionCreateProvider, map[string]string{"provider": req.Name})
	return newView(p, req.Secret), nil
}

func newView(p *models.Provider, secret map[string]any) *View {
	if secret == nil {
		secret = map[string]any{}
	}
	return &View{ID: p.ID, TenantID: p.TenantID, Name: p.Name, CreatedAt: p.CreatedAt, Secret: secret}
}

func (s *Service) Get(ctx context.Context, tenantID, name string) (*View, apperrors.Error) {
	p, err := s.store.GetProvider(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	secret, err := s.broker.Get(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	return newView(p, secret), nil
}

// List returns records only; secrets are read one provider at a time.
func (s *Service) List(ctx context.Context, tenantID string) ([]*models.Provider, apperrors.Error) {
	return s.store.ListProviders(ctx, tenantID)
}

// Update overwrites the whole secret payload of an existing provider.
func (s *Service) Update(ctx context.Context, tenantID, userID, name string, secret map[string]any) (*View, apperrors.Error) {
	p, err := s.store.GetProvider(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if err := s.broker.Put(ctx, tenantID, name, secret); err != nil {
		return nil, err
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionUpdateProvider, map[string]string{"provider": name})
	return newView(p, secret), nil
}

// Delete removes the record and then the secret. A secret that cannot be
// removed is logged; the provider is gone either way.
func (s *Service) Delete(ctx context.Context, tenantID, userID, name string) apperrors.Error {
	if err := s.store.DeleteProvider(ctx, tenantID, name); err != nil {
		return err
	}
	if err := s.broker.Delete(ctx, tenantID, name); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("tenant_id", tenantID).
			Str("provider", name).
			Msg("provider deleted but its secret could not be removed")
	}
	s.recorder.Audit(ctx, tenantID, userID, modcommon.ActionDeleteProvider, map[string]string{"provider": name})
	return nil
}
