package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
	"github.com/tansive/modhost/internal/modhost/db/dbtest"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/workload/workloadtest"
)

func newTestRunner(t *testing.T, modules ...string) (*Runner, *dbtest.Store, *recordingInvoker) {
	t.Helper()
	store := dbtest.New()
	for _, m := range modules {
		require.Nil(t, store.UpsertModule(context.Background(), &models.ModuleDescriptor{Name: m, Image: m + ":v1", Kind: "job"}))
	}
	inv := &recordingInvoker{fail: map[string]bool{}}
	return NewRunner(store, inv, events.NewRecorder(store), metrics.New()), store, inv
}

func TestRunStoresResult(t *testing.T) {
	ctx := context.Background()
	runner, store, inv := newTestRunner(t, "nmap", "semgrep")
	inv.fail["semgrep"] = true

	run, err := runner.Run(ctx, "acme", "u1", "nmap", json.RawMessage(`{"targets":["10.0.0.1"]}`))
	require.Nil(t, err)
	assert.Equal(t, StepSucceeded, run.Status)
	assert.JSONEq(t, `{"ok":true,"module":"nmap"}`, string(run.Result))
	assert.NotEqual(t, uuid.Nil, run.ID)

	failed, err := runner.Run(ctx, "acme", "u1", "semgrep", nil)
	require.Nil(t, err)
	assert.Equal(t, StepFailed, failed.Status)
	assert.Contains(t, failed.Error, "exploded")
	assert.JSONEq(t, `{}`, string(failed.Input))

	got, err := runner.GetRun(ctx, "acme", "nmap", run.ID)
	require.Nil(t, err)
	assert.JSONEq(t, `{"targets":["10.0.0.1"]}`, string(got.Input))

	_, err = runner.GetRun(ctx, "acme", "semgrep", run.ID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	_, err = runner.GetRun(ctx, "globex", "nmap", run.ID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	list, err := runner.ListRuns(ctx, "acme", "nmap", 0)
	require.Nil(t, err)
	require.Len(t, list, 1)
	list, err = runner.ListRuns(ctx, "globex", "nmap", 0)
	require.Nil(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []string{"run_module", "run_module"}, store.AuditActions("acme"))
}

func TestRunRejections(t *testing.T) {
	ctx := context.Background()
	runner, store, inv := newTestRunner(t, "nmap")

	_, err := runner.Run(ctx, "acme", "u1", "ghost", nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	_, err = runner.Run(ctx, "acme", "u1", "nmap", json.RawMessage(`[1,2]`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusOf(err))
	assert.Empty(t, inv.calls)

	store.FailRunWrite = true
	_, err = runner.Run(ctx, "acme", "u1", "nmap", nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrDatabase)
	assert.Empty(t, store.AuditActions("acme"))
}

func TestRunJobModule(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New()
	require.Nil(t, store.UpsertModule(ctx, &models.ModuleDescriptor{Name: "nmap", Image: "nmap:v1", Kind: "job"}))
	rt := workloadtest.New()
	rt.JobOutput = `{"hosts":[{"ip":"10.0.0.1","open":[22]}]}`
	invoker := KindInvoker{modcommon.ModuleKindJob: NewJobInvoker(rt, 0)}
	runner := NewRunner(store, invoker, events.NewRecorder(store), metrics.New())

	run, err := runner.Run(ctx, "acme", "u1", "nmap", json.RawMessage(`{"targets":["10.0.0.1"]}`))
	require.Nil(t, err)
	assert.Equal(t, StepSucceeded, run.Status)
	assert.JSONEq(t, `{"exit_code":0,"output":{"hosts":[{"ip":"10.0.0.1","open":[22]}]}}`, string(run.Result))
	require.Len(t, rt.Jobs, 1)
	assert.Equal(t, "nmap:v1", rt.Jobs[0].Image)
	assert.JSONEq(t, `{"targets":["10.0.0.1"]}`, rt.Jobs[0].Env["STEP_CONFIG"])

	rt.JobExitCode = 2
	run, err = runner.Run(ctx, "acme", "u1", "nmap", nil)
	require.Nil(t, err)
	assert.Equal(t, StepFailed, run.Status)
	assert.Contains(t, run.Error, "job exited with code 2")
}

func TestRunRoutes(t *testing.T) {
	runner, _, _ := newTestRunner(t, "nmap")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(modcommon.WithTenantID(req.Context(), "acme")))
		})
	})
	r.Route("/modules", func(r chi.Router) {
		for _, h := range runner.Handlers() {
			r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
		}
	})

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/modules/nmap/run", `{"input":{"targets":["10.0.0.1"]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run models.ModuleRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "/modules/nmap/runs/"+run.ID.String(), rec.Header().Get("Location"))
	assert.Equal(t, StepSucceeded, run.Status)

	rec = send(http.MethodGet, "/modules/nmap/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.ModuleRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = send(http.MethodGet, "/modules/nmap/runs/"+run.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = send(http.MethodGet, "/modules/nmap/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(http.MethodGet, "/modules/nmap/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(http.MethodPost, "/modules/ghost/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
