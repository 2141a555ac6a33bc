// Package dbtest provides an in-memory db.Store for service tests. It keeps
// the same constraints as the SQL schema: links must reference a registered
// module, provider names are unique per tenant, and every read is tenant
// scoped.
package dbtest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
)

type Store struct {
	mu             sync.Mutex
	modules        map[string]models.ModuleDescriptor
	links          map[string]models.TenantModule
	orchestrations map[uuid.UUID]models.Orchestration
	providers      map[string]models.Provider
	runs           []models.ModuleRun
	audit          []models.AuditEvent
	usage          []models.UsageMetric

	// Failure injection.
	FailLinkWrite bool
	FailAudit     bool
	FailUsage     bool
	FailRunWrite  bool
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		modules:        map[string]models.ModuleDescriptor{},
		links:          map[string]models.TenantModule{},
		orchestrations: map[uuid.UUID]models.Orchestration{},
		providers:      map[string]models.Provider{},
	}
}

func key(tenantID, name string) string {
	return tenantID + "\x00" + name
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) UpsertModule(_ context.Context, m *models.ModuleDescriptor) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if old, ok := s.modules[m.Name]; ok {
		m.CreatedAt = old.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	c := *m
	c.ConfigSchema = cloneRaw(m.ConfigSchema)
	s.modules[m.Name] = c
	return nil
}

func (s *Store) GetModule(_ context.Context, name string) (*models.ModuleDescriptor, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("module " + name + " not found")
	}
	return &m, nil
}

func (s *Store) ListModules(context.Context) ([]*models.ModuleDescriptor, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.ModuleDescriptor{}
	for _, m := range s.modules {
		m := m
		result = append(result, &m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) MissingModules(_ context.Context, names []string) ([]string, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, n := range names {
		if _, ok := s.modules[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

func (s *Store) UpsertTenantModule(_ context.Context, link *models.TenantModule) (*models.ModuleDescriptor, apperrors.Error) {
	if link.TenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLinkWrite {
		return nil, dberror.ErrDatabase.Msg("link write failed")
	}
	m, ok := s.modules[link.ModuleName]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("module " + link.ModuleName + " not found")
	}
	if len(link.Config) == 0 {
		link.Config = json.RawMessage("{}")
	}
	now := time.Now()
	k := key(link.TenantID, link.ModuleName)
	if old, ok := s.links[k]; ok {
		link.CreatedAt = old.CreatedAt
	} else {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	c := *link
	c.Config = cloneRaw(link.Config)
	s.links[k] = c
	return &m, nil
}

func (s *Store) GetTenantModule(_ context.Context, tenantID, moduleName string) (*models.TenantModule, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[key(tenantID, moduleName)]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("module " + moduleName + " is not active")
	}
	return &l, nil
}

func (s *Store) DeleteTenantModule(_ context.Context, tenantID, moduleName string) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLinkWrite {
		return dberror.ErrDatabase.Msg("link write failed")
	}
	k := key(tenantID, moduleName)
	if _, ok := s.links[k]; !ok {
		return dberror.ErrNotFound.Msg("tenant module not found")
	}
	delete(s.links, k)
	return nil
}

func (s *Store) ListTenantModules(_ context.Context, tenantID string) ([]*models.TenantModule, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.TenantModule{}
	for _, l := range s.links {
		if l.TenantID == tenantID {
			l := l
			result = append(result, &l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ModuleName < result[j].ModuleName })
	return result, nil
}

func (s *Store) CreateOrchestration(_ context.Context, o *models.Orchestration) apperrors.Error {
	if o.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if o.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("orchestration id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orchestrations[o.ID]; ok {
		return dberror.ErrAlreadyExists.Msg("orchestration already exists")
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orchestrations[o.ID] = cloneOrchestration(o)
	return nil
}

func cloneOrchestration(o *models.Orchestration) models.Orchestration {
	c := *o
	c.Pipeline = make([]models.Step, len(o.Pipeline))
	for i, st := range o.Pipeline {
		c.Pipeline[i] = models.Step{Module: st.Module, Config: cloneRaw(st.Config)}
	}
	return c
}

func (s *Store) GetOrchestration(_ context.Context, tenantID string, id uuid.UUID) (*models.Orchestration, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orchestrations[id]
	if !ok || o.TenantID != tenantID {
		return nil, dberror.ErrNotFound.Msg("orchestration not found")
	}
	c := cloneOrchestration(&o)
	return &c, nil
}

func (s *Store) ListOrchestrations(_ context.Context, tenantID string) ([]*models.Orchestration, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.Orchestration{}
	for _, o := range s.orchestrations {
		if o.TenantID == tenantID {
			c := cloneOrchestration(&o)
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateOrchestration(_ context.Context, o *models.Orchestration) apperrors.Error {
	if o.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.orchestrations[o.ID]
	if !ok || old.TenantID != o.TenantID {
		return dberror.ErrNotFound.Msg("orchestration not found")
	}
	o.CreatedAt = old.CreatedAt
	o.UpdatedAt = time.Now()
	s.orchestrations[o.ID] = cloneOrchestration(o)
	return nil
}

func (s *Store) DeleteOrchestration(_ context.Context, tenantID string, id uuid.UUID) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orchestrations[id]
	if !ok || o.TenantID != tenantID {
		return dberror.ErrNotFound.Msg("orchestration not found")
	}
	delete(s.orchestrations, id)
	return nil
}

func (s *Store) CreateProvider(_ context.Context, p *models.Provider) apperrors.Error {
	if p.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p.TenantID, p.Name)
	if _, ok := s.providers[k]; ok {
		return dberror.ErrAlreadyExists.Msg("provider already exists")
	}
	p.CreatedAt = time.Now()
	s.providers[k] = *p
	return nil
}

func (s *Store) GetProvider(_ context.Context, tenantID, name string) (*models.Provider, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[key(tenantID, name)]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("provider " + name + " not found")
	}
	return &p, nil
}

func (s *Store) ListProviders(_ context.Context, tenantID string) ([]*models.Provider, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.Provider{}
	for _, p := range s.providers {
		if p.TenantID == tenantID {
			p := p
			result = append(result, &p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteProvider(_ context.Context, tenantID, name string) apperrors.Error {
	if tenantID == "" {
		return dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenantID, name)
	if _, ok := s.providers[k]; !ok {
		return dberror.ErrNotFound.Msg("provider not found")
	}
	delete(s.providers, k)
	return nil
}

func (s *Store) CreateModuleRun(_ context.Context, run *models.ModuleRun) apperrors.Error {
	if run.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	if run.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRunWrite {
		return dberror.ErrDatabase.Msg("run write failed")
	}
	run.Timestamp = time.Now()
	c := *run
	c.Input = cloneRaw(run.Input)
	c.Result = cloneRaw(run.Result)
	s.runs = append(s.runs, c)
	return nil
}

func (s *Store) GetModuleRun(_ context.Context, tenantID string, id uuid.UUID) (*models.ModuleRun, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id && r.TenantID == tenantID {
			return &r, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("module run not found")
}

// ListModuleRuns returns the newest runs first.
func (s *Store) ListModuleRuns(_ context.Context, tenantID, moduleName string, limit int) ([]*models.ModuleRun, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.ModuleRun{}
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].TenantID == tenantID && s.runs[i].ModuleName == moduleName {
			r := s.runs[i]
			result = append(result, &r)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) AppendAudit(_ context.Context, e *models.AuditEvent) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAudit {
		return dberror.ErrDatabase.Msg("audit write failed")
	}
	e.Timestamp = time.Now()
	s.audit = append(s.audit, *e)
	return nil
}

// ListAudit returns the newest entries first.
func (s *Store) ListAudit(_ context.Context, tenantID string, limit int) ([]*models.AuditEvent, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.AuditEvent{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].TenantID == tenantID {
			e := s.audit[i]
			result = append(result, &e)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) AppendUsage(_ context.Context, m *models.UsageMetric) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUsage {
		return dberror.ErrDatabase.Msg("usage write failed")
	}
	m.Timestamp = time.Now()
	s.usage = append(s.usage, *m)
	return nil
}

func (s *Store) ListUsage(_ context.Context, tenantID string, limit int) ([]*models.UsageMetric, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*models.UsageMetric{}
	for i := len(s.usage) - 1; i >= 0; i-- {
		if s.usage[i].TenantID == tenantID {
			m := s.usage[i]
			result = append(result, &m)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// AuditActions returns the recorded audit actions for tenantID, oldest first.
func (s *Store) AuditActions(tenantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actions []string
	for _, e := range s.audit {
		if e.TenantID == tenantID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

// UsageNames returns the recorded usage metric names for tenantID, oldest first.
func (s *Store) UsageNames(tenantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, m := range s.usage {
		if m.TenantID == tenantID {
			names = append(names, m.MetricName)
		}
	}
	return names
}
