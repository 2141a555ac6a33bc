package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/dbtest"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
)

// recordingInvoker succeeds for every module except those listed in fail.
type recordingInvoker struct {
	calls []string
	fail  map[string]bool
}

func (r *recordingInvoker) Invoke(_ context.Context, tenantID string, module *models.ModuleDescriptor, step *models.Step) (json.RawMessage, error) {
	r.calls = append(r.calls, module.Name)
	if r.fail[module.Name] {
		return nil, errors.New("module " + module.Name + " exploded")
	}
	return json.RawMessage(`{"ok":true,"module":"` + module.Name + `"}`), nil
}

func newTestService(t *testing.T, modules ...string) (*Service, *dbtest.Store, *recordingInvoker) {
	t.Helper()
	store := dbtest.New()
	for _, m := range modules {
		require.Nil(t, store.UpsertModule(context.Background(), &models.ModuleDescriptor{Name: m, Image: m + ":v1", Kind: "service", Port: 8080}))
	}
	inv := &recordingInvoker{fail: map[string]bool{}}
	return NewService(store, inv, events.NewRecorder(store), metrics.New()), store, inv
}

func TestTriggerRunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	svc, store, inv := newTestService(t, "a", "b")

	o, err := svc.Create(ctx, "t1", "u1", &Request{Name: "p1", Pipeline: []models.Step{{Module: "a"}, {Module: "b"}}})
	require.Nil(t, err)

	run, err := svc.Trigger(ctx, "t1", "u1", o.ID)
	require.Nil(t, err)
	assert.Equal(t, RunStatusTriggered, run.Status)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, "a", run.Outcomes[0].Module)
	assert.Equal(t, "b", run.Outcomes[1].Module)
	assert.Equal(t, StepSucceeded, run.Outcomes[0].Status)
	assert.JSONEq(t, `{"ok":true,"module":"b"}`, string(run.Outcomes[1].Result))
	assert.Equal(t, []string{"a", "b"}, inv.calls)

	assert.Equal(t, []string{"create_orchestration", "trigger_orchestration"}, store.AuditActions("t1"))
}

func TestTriggerNeverShortCircuits(t *testing.T) {
	ctx := context.Background()
	svc, _, inv := newTestService(t, "a", "b", "c", "d")
	inv.fail["b"] = true

	o, err := svc.Create(ctx, "t1", "u1", &Request{
		Name:     "p",
		Pipeline: []models.Step{{Module: "a"}, {Module: "b"}, {Module: "c"}, {Module: "d"}},
	})
	require.Nil(t, err)

	run, err := svc.Trigger(ctx, "t1", "u1", o.ID)
	require.Nil(t, err)
	require.Len(t, run.Outcomes, 4)
	statuses := []string{}
	for _, oc := range run.Outcomes {
		statuses = append(statuses, oc.Status)
	}
	assert.Equal(t, []string{StepSucceeded, StepFailed, StepSucceeded, StepSucceeded}, statuses)
	assert.Contains(t, run.Outcomes[1].Error, "exploded")
	assert.Equal(t, []string{"a", "b", "c", "d"}, inv.calls)
}

func TestTriggerRecordsModuleRemovedAfterCreate(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New()
	require.Nil(t, store.UpsertModule(ctx, &models.ModuleDescriptor{Name: "a", Image: "a:v1", Kind: "service"}))
	inv := &recordingInvoker{}
	svc := NewService(store, inv, nil, nil)

	// stored directly, so the pipeline references a module the registry lacks
	o := &models.Orchestration{ID: uuid.New(), TenantID: "t1", Name: "p", Pipeline: []models.Step{{Module: "gone"}, {Module: "a"}}}
	require.Nil(t, store.CreateOrchestration(ctx, o))

	run, err := svc.Trigger(ctx, "t1", "u1", o.ID)
	require.Nil(t, err)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, StepFailed, run.Outcomes[0].Status)
	assert.Equal(t, StepSucceeded, run.Outcomes[1].Status)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, "a")

	tests := []struct {
		name string
		req  *Request
	}{
		{"empty name", &Request{Name: " ", Pipeline: []models.Step{{Module: "a"}}}},
		{"step without module", &Request{Name: "p", Pipeline: []models.Step{{}}}},
		{"unknown module", &Request{Name: "p", Pipeline: []models.Step{{Module: "a"}, {Module: "zzz"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "t1", "u1", tt.req)
			require.NotNil(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, http.StatusBadRequest, apperrors.StatusOf(err))
		})
	}

	_, err := svc.Create(ctx, "t1", "u1", &Request{Name: "p", Pipeline: []models.Step{{Module: "zzz"}}})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "zzz")
}

func TestCrudIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, "a", "b")

	o, err := svc.Create(ctx, "t1", "u1", &Request{Name: "p1", Pipeline: []models.Step{{Module: "a"}}})
	require.Nil(t, err)

	_, err = svc.Get(ctx, "t2", o.ID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	_, err = svc.Trigger(ctx, "t2", "u2", o.ID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "t2", "u2", o.ID), dberror.ErrNotFound)

	updated, err := svc.Update(ctx, "t1", "u1", o.ID, &Request{Name: "p2", Pipeline: []models.Step{{Module: "b"}, {Module: "a"}}})
	require.Nil(t, err)
	assert.Equal(t, "p2", updated.Name)

	got, err := svc.Get(ctx, "t1", o.ID)
	require.Nil(t, err)
	assert.Equal(t, "p2", got.Name)
	require.Len(t, got.Pipeline, 2)
	assert.Equal(t, "b", got.Pipeline[0].Module)

	list, err := svc.List(ctx, "t1")
	require.Nil(t, err)
	assert.Len(t, list, 1)

	require.Nil(t, svc.Delete(ctx, "t1", "u1", o.ID))
	_, err = svc.Get(ctx, "t1", o.ID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}
