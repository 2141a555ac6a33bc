// Package activation owns the module registry and the tenant to module links,
// and drives the container runtime so that every link has exactly one running
// workload and every workload has a link.
//
// Link writes always precede runtime calls. If the runtime fails after a link
// was written the system is left with a link and no workload, which Reconcile
// repairs. Per key, link mutations are serialized; runtime calls happen outside
// the lock and are followed by a generation check so the last writer decides
// the final state.
package activation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
	"github.com/tansive/modhost/internal/modhost/workload"
)

// Store is the part of the registry the controller needs.
type Store interface {
	db.ModuleRegistry
	db.TenantModuleStore
}

type Controller struct {
	store    Store
	runtime  workload.Runtime
	recorder *events.Recorder
	metrics  *metrics.Metrics
	locks    *keyLocks
}

func NewController(store Store, runtime workload.Runtime, recorder *events.Recorder, m *metrics.Metrics) *Controller {
	return &Controller{
		store:    store,
		runtime:  runtime,
		recorder: recorder,
		metrics:  m,
		locks:    newKeyLocks(),
	}
}

func validateNames(tenantID, moduleName string) apperrors.Error {
	if !schemavalidator.ValidResourceName(tenantID) {
		return ErrValidation.Msg("invalid tenant id: " + tenantID)
	}
	if !schemavalidator.ValidResourceName(moduleName) {
		return ErrValidation.Msg("invalid module name: " + moduleName)
	}
	return nil
}

// Register upserts a module descriptor by name. The registry is global;
// tenantID only attributes the audit entry.
func (c *Controller) Register(ctx context.Context, tenantID, userID string, req *RegisterRequest) (*models.ModuleDescriptor, apperrors.Error) {
	if req.Image == "" {
		return nil, ErrValidation.Msg("image is required")
	}
	if err := schemavalidator.V().Struct(req); err != nil {
		return nil, ErrValidation.MsgErr("invalid module descriptor", err).SetExpandError(true)
	}
	if len(req.ConfigSchema) > 0 && string(req.ConfigSchema) != "null" {
		if _, err := schemavalidator.CompileSchema(req.ConfigSchema); err != nil {
			return nil, ErrValidation.MsgErr("invalid config_schema", err).SetExpandError(true)
		}
	}

	m := &models.ModuleDescriptor{
		Name:         req.Name,
		Image:        req.Image,
		Description:  req.Description,
		ConfigSchema: req.ConfigSchema,
		Kind:         req.Kind,
		Port:         req.Port,
	}
	if m.Kind == "" {
		m.Kind = modcommon.ModuleKindService
	}
	if m.Port == 0 {
		m.Port = modcommon.DefaultModulePort
	}
	if err := c.store.UpsertModule(ctx, m); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("module", m.Name).Str("image", m.Image).Msg("module registered")
	c.recorder.Audit(ctx, tenantID, userID, modcommon.ActionRegisterModule, map[string]string{"module_name": m.Name})
	return m, nil
}

func (c *Controller) ListModules(ctx context.Context) ([]*models.ModuleDescriptor, apperrors.Error) {
	return c.store.ListModules(ctx)
}

func (c *Controller) GetModule(ctx context.Context, name string) (*models.ModuleDescriptor, apperrors.Error) {
	return c.store.GetModule(ctx, name)
}

func (c *Controller) ListActive(ctx context.Context, tenantID string) ([]*models.TenantModule, apperrors.Error) {
	return c.store.ListTenantModules(ctx, tenantID)
}

func decodeConfig(raw json.RawMessage) (any, apperrors.Error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ErrValidation.Msg("config is not valid JSON")
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, ErrValidation.Msg("config must be a JSON object")
	}
	return doc, nil
}

// Activate links moduleName to tenantID and makes sure its workload runs.
func (c *Controller) Activate(ctx context.Context, tenantID, userID, moduleName string, config json.RawMessage) (*Result, apperrors.Error) {
	if err := validateNames(tenantID, moduleName); err != nil {
		return nil, err
	}
	descriptor, err := c.store.GetModule(ctx, moduleName)
	if err != nil {
		return nil, err
	}
	doc, err := decodeConfig(config)
	if err != nil {
		return nil, err
	}
	if verr := schemavalidator.ValidateDocument(descriptor.ConfigSchema, doc); verr != nil {
		return nil, ErrInvalidConfig.Err(verr)
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	keyName := modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName)
	key := c.locks.acquire(keyName)
	defer c.locks.release(keyName, key)
	link := &models.TenantModule{TenantID: tenantID, ModuleName: moduleName, Config: config}
	gen, lerr := key.mutate(func() error {
		d, err := c.store.UpsertTenantModule(ctx, link)
		if err != nil {
			return err
		}
		descriptor = d
		return nil
	})
	if lerr != nil {
		c.metrics.ActivationResult("activate", "link_failed")
		return nil, asAppError(lerr)
	}

	state, rerr := c.ensureRunning(ctx, tenantID, descriptor, link.Config)
	if rerr != nil {
		c.metrics.ActivationResult("activate", "runtime_failed")
		return nil, rerr
	}
	c.settle(ctx, key, gen, tenantID, moduleName)

	c.metrics.ActivationResult("activate", "success")
	c.recorder.Audit(ctx, tenantID, userID, modcommon.ActionActivateModule, map[string]string{"module_name": moduleName})
	return &Result{
		Status:   "activated",
		Module:   moduleName,
		Tenant:   tenantID,
		Workload: modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName),
		State:    state,
	}, nil
}

// Deactivate removes the link and then the workload. A missing link or a
// missing workload is not an error.
func (c *Controller) Deactivate(ctx context.Context, tenantID, userID, moduleName string) (*Result, apperrors.Error) {
	if err := validateNames(tenantID, moduleName); err != nil {
		return nil, err
	}
	keyName := modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName)
	key := c.locks.acquire(keyName)
	defer c.locks.release(keyName, key)
	gen, lerr := key.mutate(func() error {
		err := c.store.DeleteTenantModule(ctx, tenantID, moduleName)
		if err != nil && !errors.Is(err, dberror.ErrNotFound) {
			return err
		}
		return nil
	})
	if lerr != nil {
		c.metrics.ActivationResult("deactivate", "link_failed")
		return nil, asAppError(lerr)
	}

	state, rerr := c.ensureRemoved(ctx, tenantID, moduleName)
	if rerr != nil {
		c.metrics.ActivationResult("deactivate", "runtime_failed")
		return nil, rerr
	}
	c.settle(ctx, key, gen, tenantID, moduleName)

	c.metrics.ActivationResult("deactivate", "success")
	c.recorder.Audit(ctx, tenantID, userID, modcommon.ActionDeactivateModule, map[string]string{"module_name": moduleName})
	result := &Result{
		Status:   "deactivated",
		Module:   moduleName,
		Tenant:   tenantID,
		Workload: modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName),
		State:    state,
	}
	if state == WorkloadAbsent {
		result.Info = InfoWorkloadNotFound
	}
	return result, nil
}

// Reconcile drives the runtime towards the stored link state: a linked
// module gets a running workload, an unlinked one gets none.
func (c *Controller) Reconcile(ctx context.Context, tenantID, moduleName string) (*Result, apperrors.Error) {
	if err := validateNames(tenantID, moduleName); err != nil {
		return nil, err
	}
	keyName := modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName)
	key := c.locks.acquire(keyName)
	defer c.locks.release(keyName, key)
	state, err := c.reconcileOnce(ctx, key, tenantID, moduleName)
	if err != nil {
		c.metrics.ActivationResult("reconcile", "runtime_failed")
		return nil, err
	}
	c.metrics.ActivationResult("reconcile", "success")
	status := "deactivated"
	if state != WorkloadRemoved && state != WorkloadAbsent {
		status = "activated"
	}
	return &Result{
		Status:   status,
		Module:   moduleName,
		Tenant:   tenantID,
		Workload: modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName),
		State:    state,
	}, nil
}

func (c *Controller) reconcileOnce(ctx context.Context, key *keyState, tenantID, moduleName string) (string, apperrors.Error) {
	var link *models.TenantModule
	_, rerr := key.read(func() error {
		l, err := c.store.GetTenantModule(ctx, tenantID, moduleName)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return nil
			}
			return err
		}
		link = l
		return nil
	})
	if rerr != nil {
		return "", asAppError(rerr)
	}
	if link == nil {
		return c.ensureRemoved(ctx, tenantID, moduleName)
	}
	descriptor, err := c.store.GetModule(ctx, moduleName)
	if err != nil {
		return "", err
	}
	return c.ensureRunning(ctx, tenantID, descriptor, link.Config)
}

// settle runs one reconcile step when another writer changed the key while
// this caller was talking to the runtime.
func (c *Controller) settle(ctx context.Context, key *keyState, gen uint64, tenantID, moduleName string) {
	if key.current() == gen {
		return
	}
	log.Ctx(ctx).Info().
		Str("tenant_id", tenantID).
		Str("module", moduleName).
		Msg("link changed during runtime call, reconciling")
	if _, err := c.reconcileOnce(ctx, key, tenantID, moduleName); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("module", moduleName).Msg("reconcile after concurrent change failed")
	}
}

// ensureRunning makes sure the named workload runs with config. A workload
// created from a different config is replaced; one without a config label is
// adopted as is.
func (c *Controller) ensureRunning(ctx context.Context, tenantID string, descriptor *models.ModuleDescriptor, config json.RawMessage) (string, apperrors.Error) {
	name := modcommon.WorkloadName(modcommon.TenantId(tenantID), descriptor.Name)
	config = canonicalConfig(config)
	hash := configHash(config)

	st, err := c.runtime.Get(ctx, name)
	switch {
	case err == nil && staleConfig(st, hash):
		log.Ctx(ctx).Info().Str("workload", name).Msg("module config changed, recreating workload")
		if _, rerr := c.ensureRemoved(ctx, tenantID, descriptor.Name); rerr != nil {
			return "", rerr
		}
		state, rerr := c.createWorkload(ctx, tenantID, descriptor, config, hash)
		if rerr != nil {
			return "", rerr
		}
		if state == WorkloadCreated {
			state = WorkloadRecreated
		}
		return state, nil
	case err == nil:
		return c.adopt(ctx, name, st)
	case !errors.Is(err, workload.ErrWorkloadNotFound):
		return "", runtimeError(ctx, err, name)
	}
	return c.createWorkload(ctx, tenantID, descriptor, config, hash)
}

func (c *Controller) adopt(ctx context.Context, name string, st *workload.Status) (string, apperrors.Error) {
	if st.Running {
		return WorkloadAlreadyRunning, nil
	}
	if err := c.runtime.Start(ctx, name); err != nil {
		return "", runtimeError(ctx, err, name)
	}
	return WorkloadStarted, nil
}

func (c *Controller) createWorkload(ctx context.Context, tenantID string, descriptor *models.ModuleDescriptor, config json.RawMessage, hash string) (string, apperrors.Error) {
	name := modcommon.WorkloadName(modcommon.TenantId(tenantID), descriptor.Name)
	spec := &workload.Spec{
		Name:  name,
		Image: descriptor.Image,
		Env: map[string]string{
			"TENANT_ID":     tenantID,
			"MODULE_NAME":   descriptor.Name,
			"MODULE_CONFIG": string(config),
		},
		Labels: map[string]string{
			workload.LabelTenant:     tenantID,
			workload.LabelModule:     descriptor.Name,
			workload.LabelConfigHash: hash,
		},
		RestartPolicy: "unless-stopped",
	}
	if _, err := c.runtime.Run(ctx, spec); err != nil {
		if !errors.Is(err, workload.ErrWorkloadConflict) {
			return "", runtimeError(ctx, err, name)
		}
		// a concurrent activation created it between our Get and Run
		st, gerr := c.runtime.Get(ctx, name)
		if gerr != nil {
			return "", runtimeError(ctx, gerr, name)
		}
		return c.adopt(ctx, name, st)
	}
	log.Ctx(ctx).Info().Str("workload", name).Str("image", descriptor.Image).Msg("workload started")
	return WorkloadCreated, nil
}

// canonicalConfig re-encodes a config document so equal documents compare
// equal regardless of key order or whitespace.
func canonicalConfig(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return raw
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

func configHash(config json.RawMessage) string {
	sum := sha256.Sum256(config)
	return hex.EncodeToString(sum[:])
}

func staleConfig(st *workload.Status, hash string) bool {
	got, ok := st.Labels[workload.LabelConfigHash]
	return ok && got != hash
}

func (c *Controller) ensureRemoved(ctx context.Context, tenantID, moduleName string) (string, apperrors.Error) {
	name := modcommon.WorkloadName(modcommon.TenantId(tenantID), moduleName)
	if err := c.runtime.Stop(ctx, name); err != nil {
		if errors.Is(err, workload.ErrWorkloadNotFound) {
			log.Ctx(ctx).Warn().Str("workload", name).Msg("workload not found for deactivation")
			return WorkloadAbsent, nil
		}
		return "", runtimeError(ctx, err, name)
	}
	if err := c.runtime.Remove(ctx, name); err != nil {
		if errors.Is(err, workload.ErrWorkloadNotFound) {
			return WorkloadRemoved, nil
		}
		return "", runtimeError(ctx, err, name)
	}
	return WorkloadRemoved, nil
}

func runtimeError(ctx context.Context, err apperrors.Error, name string) apperrors.Error {
	log.Ctx(ctx).Error().Err(err).Str("workload", name).Msg("container runtime call failed")
	if errors.Is(err, workload.ErrRuntimeUnavailable) {
		return ErrServiceUnavailable.Err(err)
	}
	return ErrActivation.MsgErr("container runtime error on "+name, err).SetExpandError(true)
}

func asAppError(err error) apperrors.Error {
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrActivation.Err(err)
}
