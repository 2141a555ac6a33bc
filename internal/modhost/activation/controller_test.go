package activation

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/dbtest"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/workload/workloadtest"
)

type fixture struct {
	ctx   context.Context
	store *dbtest.Store
	rt    *workloadtest.Runtime
	c     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.New()
	rt := workloadtest.New()
	return &fixture{
		ctx:   context.Background(),
		store: store,
		rt:    rt,
		c:     NewController(store, rt, events.NewRecorder(store), metrics.New()),
	}
}

func (f *fixture) register(t *testing.T, name, image string, schema string) {
	t.Helper()
	req := &RegisterRequest{Name: name, Image: image}
	if schema != "" {
		req.ConfigSchema = json.RawMessage(schema)
	}
	_, err := f.c.Register(f.ctx, "acme", "u1", req)
	require.Nil(t, err)
}

func (f *fixture) linkCount(t *testing.T, tenant string) int {
	t.Helper()
	links, err := f.store.ListTenantModules(f.ctx, tenant)
	require.Nil(t, err)
	return len(links)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	m, err := f.c.Register(f.ctx, "acme", "u1", &RegisterRequest{
		Name:         "scanner",
		Image:        "img:v1",
		Description:  "port scanner",
		ConfigSchema: json.RawMessage(`{"type":"object"}`),
	})
	require.Nil(t, err)
	assert.Equal(t, "service", m.Kind)
	assert.Equal(t, 8080, m.Port)

	mods, err := f.c.ListModules(f.ctx)
	require.Nil(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "scanner", mods[0].Name)
	assert.Equal(t, "img:v1", mods[0].Image)
	assert.Equal(t, "port scanner", mods[0].Description)
	assert.JSONEq(t, `{"type":"object"}`, string(mods[0].ConfigSchema))
	assert.Equal(t, []string{"register_module"}, f.store.AuditActions("acme"))

	tests := []struct {
		name string
		req  *RegisterRequest
	}{
		{"missing image", &RegisterRequest{Name: "scanner"}},
		{"bad name", &RegisterRequest{Name: "Bad Name", Image: "img"}},
		{"bad kind", &RegisterRequest{Name: "scanner", Image: "img", Kind: "daemon"}},
		{"bad schema", &RegisterRequest{Name: "scanner", Image: "img", ConfigSchema: json.RawMessage(`{"type":12}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.c.Register(f.ctx, "acme", "u1", tt.req)
			require.NotNil(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, http.StatusBadRequest, apperrors.StatusOf(err))
		})
	}
}

func TestActivateDeactivateScenario(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{"depth":"deep"}`))
	require.Nil(t, err)
	assert.Equal(t, "activated", res.Status)
	assert.Equal(t, "acme-scanner", res.Workload)
	assert.Equal(t, WorkloadCreated, res.State)

	w := f.rt.Workload("acme-scanner")
	require.NotNil(t, w)
	assert.True(t, w.Running)
	spec := f.rt.SpecOf("acme-scanner")
	assert.Equal(t, "img:v1", spec.Image)
	assert.Equal(t, "acme", spec.Env["TENANT_ID"])
	assert.Equal(t, "scanner", spec.Env["MODULE_NAME"])
	assert.JSONEq(t, `{"depth":"deep"}`, spec.Env["MODULE_CONFIG"])
	assert.Equal(t, "unless-stopped", spec.RestartPolicy)
	assert.Equal(t, 1, f.linkCount(t, "acme"))

	res, err = f.c.Deactivate(f.ctx, "acme", "u1", "scanner")
	require.Nil(t, err)
	assert.Equal(t, "deactivated", res.Status)
	assert.Empty(t, res.Info)
	assert.Equal(t, 0, f.linkCount(t, "acme"))
	assert.Nil(t, f.rt.Workload("acme-scanner"))

	assert.Equal(t, []string{"register_module", "activate_module", "deactivate_module"}, f.store.AuditActions("acme"))
}

func TestActivateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)

	assert.Equal(t, WorkloadAlreadyRunning, res.State)
	assert.Equal(t, 1, f.rt.CallCount("run"))
	assert.Equal(t, 1, f.linkCount(t, "acme"))
}

func TestActivateStartsStoppedWorkload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.rt.Put("acme-scanner", "img:v1", false)

	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	assert.Equal(t, WorkloadStarted, res.State)
	assert.Equal(t, 0, f.rt.CallCount("run"))
	assert.True(t, f.rt.Workload("acme-scanner").Running)
}

func TestActivateRejections(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", `{"type":"object","properties":{"depth":{"enum":["shallow","deep"]}},"required":["depth"]}`)

	_, err := f.c.Activate(f.ctx, "acme", "u1", "ghost", nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.StatusOf(err))

	_, err = f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{"depth":"bottomless"}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`[1,2]`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.c.Activate(f.ctx, "Not A Tenant", "u1", "scanner", json.RawMessage(`{"depth":"deep"}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, f.rt.Calls)
	assert.Equal(t, 0, f.linkCount(t, "acme"))
}

func TestActivateLinkWriteFailureStartsNothing(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.store.FailLinkWrite = true

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrDatabase)
	assert.Empty(t, f.rt.Calls)
	assert.Equal(t, []string{"register_module"}, f.store.AuditActions("acme"))
}

func TestRuntimeUnavailableLeavesReconcilableLink(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.rt.Unavailable = true

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusOf(err))
	assert.Equal(t, 1, f.linkCount(t, "acme"))
	assert.Nil(t, f.rt.Workload("acme-scanner"))

	f.rt.Unavailable = false
	res, err := f.c.Reconcile(f.ctx, "acme", "scanner")
	require.Nil(t, err)
	assert.Equal(t, "activated", res.Status)
	assert.Equal(t, WorkloadCreated, res.State)
	assert.True(t, f.rt.Workload("acme-scanner").Running)
}

func TestReconcileRemovesOrphanWorkload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.rt.Put("acme-scanner", "img:v1", true)

	res, err := f.c.Reconcile(f.ctx, "acme", "scanner")
	require.Nil(t, err)
	assert.Equal(t, "deactivated", res.Status)
	assert.Nil(t, f.rt.Workload("acme-scanner"))
}

func TestDeactivateMissingWorkload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.rt.Unavailable = true
	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.NotNil(t, err)
	f.rt.Unavailable = false

	res, err := f.c.Deactivate(f.ctx, "acme", "u1", "scanner")
	require.Nil(t, err)
	assert.Equal(t, "deactivated", res.Status)
	assert.Equal(t, InfoWorkloadNotFound, res.Info)
	assert.Equal(t, 0, f.linkCount(t, "acme"))

	// nothing linked and nothing running is still a success
	res, err = f.c.Deactivate(f.ctx, "acme", "u1", "scanner")
	require.Nil(t, err)
	assert.Equal(t, InfoWorkloadNotFound, res.Info)
}

func TestDeactivateRuntimeUnavailable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)

	f.rt.Unavailable = true
	_, err = f.c.Deactivate(f.ctx, "acme", "u1", "scanner")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 0, f.linkCount(t, "acme"))
}

func TestAuditFailureDoesNotFailActivation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.store.FailAudit = true

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	assert.NotNil(t, f.rt.Workload("acme-scanner"))
}

func TestConcurrentDeactivateWins(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	fired := false
	f.rt.BeforeCall = func(op, name string) {
		if fired || op != "get" {
			return
		}
		fired = true
		// a deactivate lands between the link write and the runtime call
		_, err := f.c.Deactivate(f.ctx, "acme", "u2", "scanner")
		require.Nil(t, err)
	}

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	assert.True(t, fired)
	assert.Equal(t, 0, f.linkCount(t, "acme"))
	assert.Nil(t, f.rt.Workload("acme-scanner"))
}

func TestConcurrentActivateAdoptsWorkload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	fired := false
	var inner *Result
	f.rt.BeforeCall = func(op, name string) {
		if fired || op != "run" {
			return
		}
		fired = true
		// a second activation creates the workload between Get and Run
		res, err := f.c.Activate(f.ctx, "acme", "u2", "scanner", nil)
		require.Nil(t, err)
		inner = res
	}

	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	assert.True(t, fired)
	require.NotNil(t, inner)
	assert.Equal(t, WorkloadCreated, inner.State)
	assert.Equal(t, WorkloadAlreadyRunning, res.State)
	assert.Equal(t, 2, f.rt.CallCount("run"))
	assert.Equal(t, 1, f.linkCount(t, "acme"))
	assert.True(t, f.rt.Workload("acme-scanner").Running)
}

func TestActivateWithChangedConfigRecreates(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{"depth":"shallow","ports":[22]}`))
	require.Nil(t, err)

	// same document, different key order and spacing
	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{ "ports": [22], "depth": "shallow" }`))
	require.Nil(t, err)
	assert.Equal(t, WorkloadAlreadyRunning, res.State)
	assert.Equal(t, 1, f.rt.CallCount("run"))

	res, err = f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{"depth":"deep"}`))
	require.Nil(t, err)
	assert.Equal(t, WorkloadRecreated, res.State)
	assert.Equal(t, 2, f.rt.CallCount("run"))
	assert.Equal(t, 1, f.rt.CallCount("remove"))
	assert.JSONEq(t, `{"depth":"deep"}`, f.rt.SpecOf("acme-scanner").Env["MODULE_CONFIG"])
	assert.True(t, f.rt.Workload("acme-scanner").Running)
	assert.Equal(t, 1, f.linkCount(t, "acme"))
}

func TestActivateAdoptsUnlabelledWorkload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")
	f.rt.Put("acme-scanner", "img:v1", true)

	res, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", json.RawMessage(`{"depth":"deep"}`))
	require.Nil(t, err)
	assert.Equal(t, WorkloadAlreadyRunning, res.State)
	assert.Equal(t, 0, f.rt.CallCount("remove"))
}

func TestKeyLocksAreReleased(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	for _, tenant := range []string{"acme", "globex", "initech"} {
		_, err := f.c.Activate(f.ctx, tenant, "u1", "scanner", nil)
		require.Nil(t, err)
		_, err = f.c.Deactivate(f.ctx, tenant, "u1", "scanner")
		require.Nil(t, err)
	}
	_, err := f.c.Reconcile(f.ctx, "acme", "scanner")
	require.Nil(t, err)
	assert.Equal(t, 0, f.c.locks.len())
}

func TestKeyLockSharedWhileHeld(t *testing.T) {
	locks := newKeyLocks()
	a := locks.acquire("acme-scanner")
	b := locks.acquire("acme-scanner")
	assert.Same(t, a, b)

	gen, err := a.mutate(func() error { return nil })
	require.NoError(t, err)
	locks.release("acme-scanner", a)
	assert.Equal(t, 1, locks.len())
	assert.Equal(t, gen, b.current())

	locks.release("acme-scanner", b)
	assert.Equal(t, 0, locks.len())
	c := locks.acquire("acme-scanner")
	assert.NotSame(t, a, c)
	locks.release("acme-scanner", c)
}

func TestTenantsAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.register(t, "scanner", "img:v1", "")

	_, err := f.c.Activate(f.ctx, "acme", "u1", "scanner", nil)
	require.Nil(t, err)
	_, err = f.c.Activate(f.ctx, "globex", "u2", "scanner", nil)
	require.Nil(t, err)
	_, err = f.c.Deactivate(f.ctx, "acme", "u1", "scanner")
	require.Nil(t, err)

	assert.Nil(t, f.rt.Workload("acme-scanner"))
	assert.NotNil(t, f.rt.Workload("globex-scanner"))
	active, err := f.c.ListActive(f.ctx, "globex")
	require.Nil(t, err)
	require.Len(t, active, 1)
}
