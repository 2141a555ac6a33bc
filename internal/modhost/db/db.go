// Package db declares the storage interfaces of the modhost registry and wires
// them to the PostgreSQL implementation.
package db

import (
	"context"
	"database/sql"

	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/db/postgresql"
)

type ModuleRegistry interface {
	UpsertModule(ctx context.Context, m *models.ModuleDescriptor) apperrors.Error
	GetModule(ctx context.Context, name string) (*models.ModuleDescriptor, apperrors.Error)
	ListModules(ctx context.Context) ([]*models.ModuleDescriptor, apperrors.Error)
	MissingModules(ctx context.Context, names []string) ([]string, apperrors.Error)
}

type TenantModuleStore interface {
	UpsertTenantModule(ctx context.Context, link *models.TenantModule) (*models.ModuleDescriptor, apperrors.Error)
	GetTenantModule(ctx context.Context, tenantID, moduleName string) (*models.TenantModule, apperrors.Error)
	DeleteTenantModule(ctx context.Context, tenantID, moduleName string) apperrors.Error
	ListTenantModules(ctx context.Context, tenantID string) ([]*models.TenantModule, apperrors.Error)
}

type OrchestrationStore interface {
	CreateOrchestration(ctx context.Context, o *models.Orchestration) apperrors.Error
	GetOrchestration(ctx context.Context, tenantID string, id uuid.UUID) (*models.Orchestration, apperrors.Error)
	ListOrchestrations(ctx context.Context, tenantID string) ([]*models.Orchestration, apperrors.Error)
	UpdateOrchestration(ctx context.Context, o *models.Orchestration) apperrors.Error
	DeleteOrchestration(ctx context.Context, tenantID string, id uuid.UUID) apperrors.Error
}

type ProviderStore interface {
	CreateProvider(ctx context.Context, p *models.Provider) apperrors.Error
	GetProvider(ctx context.Context, tenantID, name string) (*models.Provider, apperrors.Error)
	ListProviders(ctx context.Context, tenantID string) ([]*models.Provider, apperrors.Error)
	DeleteProvider(ctx context.Context, tenantID, name string) apperrors.Error
}

// ModuleRunStore keeps the history of direct module runs.
type ModuleRunStore interface {
	CreateModuleRun(ctx context.Context, run *models.ModuleRun) apperrors.Error
	GetModuleRun(ctx context.Context, tenantID string, id uuid.UUID) (*models.ModuleRun, apperrors.Error)
	ListModuleRuns(ctx context.Context, tenantID, moduleName string, limit int) ([]*models.ModuleRun, apperrors.Error)
}

// EventStore holds the append-only audit and usage tables.
type EventStore interface {
	AppendAudit(ctx context.Context, e *models.AuditEvent) apperrors.Error
	ListAudit(ctx context.Context, tenantID string, limit int) ([]*models.AuditEvent, apperrors.Error)
	AppendUsage(ctx context.Context, m *models.UsageMetric) apperrors.Error
	ListUsage(ctx context.Context, tenantID string, limit int) ([]*models.UsageMetric, apperrors.Error)
}

// Store is the complete registry.
type Store interface {
	ModuleRegistry
	TenantModuleStore
	OrchestrationStore
	ProviderStore
	ModuleRunStore
	EventStore
	Ping(ctx context.Context) error
}

// NewStore returns the PostgreSQL registry on top of an open pool.
func NewStore(sqlDB *sql.DB) Store {
	return postgresql.New(sqlDB)
}
