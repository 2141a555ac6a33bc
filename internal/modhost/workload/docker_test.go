package workload

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/modhost/internal/common/apperrors"
)

// fakeEngine emulates the handful of Docker Engine endpoints the adapter uses.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	created    []map[string]any
	createName []string
	exitCode   int
	output     string
	pulls      int
	images     map[string]bool
}

type fakeContainer struct {
	id      string
	running bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: map[string]*fakeContainer{}, images: map[string]bool{}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such container: " + what})
}

// lookup accepts either a container name or id.
func (f *fakeEngine) lookup(ref string) (string, *fakeContainer) {
	if c, ok := f.containers[ref]; ok {
		return ref, c
	}
	for name, c := range f.containers {
		if c.id == ref {
			return name, c
		}
	}
	return "", nil
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v1.41")
	switch {
	case r.Method == http.MethodPost && path == "/images/create":
		f.pulls++
		q := r.URL.Query()
		f.images[q.Get("fromImage")+":"+q.Get("tag")] = true
		writeJSON(w, http.StatusOK, map[string]string{"status": "pulled"})
	case r.Method == http.MethodPost && path == "/containers/create":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		image, _ := body["Image"].(string)
		if !f.images[image] {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such image: " + image})
			return
		}
		name := r.URL.Query().Get("name")
		if _, ok := f.containers[name]; ok {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "name in use"})
			return
		}
		id := "id-" + name
		f.containers[name] = &fakeContainer{id: id}
		f.created = append(f.created, body)
		f.createName = append(f.createName, name)
		writeJSON(w, http.StatusCreated, map[string]any{"Id": id, "Warnings": []string{}})
	case strings.HasPrefix(path, "/containers/"):
		rest := strings.TrimPrefix(path, "/containers/")
		ref, action, _ := strings.Cut(rest, "/")
		name, c := f.lookup(ref)
		if c == nil {
			notFound(w, ref)
			return
		}
		switch {
		case r.Method == http.MethodGet && action == "json":
			status := "exited"
			if c.running {
				status = "running"
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"Id":     c.id,
				"Name":   "/" + name,
				"State":  map[string]any{"Running": c.running, "Status": status},
				"Config": map[string]any{"Image": "img"},
			})
		case r.Method == http.MethodPost && action == "start":
			c.running = true
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && action == "stop":
			c.running = false
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && action == "wait":
			c.running = false
			writeJSON(w, http.StatusOK, map[string]any{"StatusCode": f.exitCode})
		case r.Method == http.MethodGet && action == "logs":
			w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
			w.WriteHeader(http.StatusOK)
			hdr := make([]byte, 8)
			hdr[0] = 1
			binary.BigEndian.PutUint32(hdr[4:], uint32(len(f.output)))
			w.Write(hdr)
			io.WriteString(w, f.output)
		case r.Method == http.MethodDelete && action == "":
			delete(f.containers, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestDocker(t *testing.T, engine http.Handler) *Docker {
	t.Helper()
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	d, err := NewDocker(DockerOptions{
		Host:       "tcp://" + srv.Listener.Addr().String(),
		APIVersion: "1.41",
		Network:    "modhost",
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDockerServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	d := newTestDocker(t, engine)

	_, err := d.Get(ctx, "acme-scanner")
	require.ErrorIs(t, err, ErrWorkloadNotFound)

	st, err := d.Run(ctx, &Spec{
		Name:          "acme-scanner",
		Image:         "scanner:v1",
		Env:           map[string]string{"TENANT_ID": "acme", "MODULE_NAME": "scanner"},
		Labels:        map[string]string{LabelTenant: "acme"},
		RestartPolicy: "unless-stopped",
	})
	require.Nil(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 1, engine.pulls)

	require.Len(t, engine.created, 1)
	body := engine.created[0]
	assert.Equal(t, []any{"MODULE_NAME=scanner", "TENANT_ID=acme"}, body["Env"])
	labels := body["Labels"].(map[string]any)
	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "acme", labels[LabelTenant])
	hostCfg := body["HostConfig"].(map[string]any)
	assert.Equal(t, "unless-stopped", hostCfg["RestartPolicy"].(map[string]any)["Name"])
	assert.Equal(t, "modhost", hostCfg["NetworkMode"])

	st, err = d.Get(ctx, "acme-scanner")
	require.Nil(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "running", st.State)

	require.Nil(t, d.Stop(ctx, "acme-scanner"))
	st, err = d.Get(ctx, "acme-scanner")
	require.Nil(t, err)
	assert.False(t, st.Running)

	require.Nil(t, d.Start(ctx, "acme-scanner"))
	require.Nil(t, d.Remove(ctx, "acme-scanner"))
	assert.ErrorIs(t, d.Remove(ctx, "acme-scanner"), ErrWorkloadNotFound)
}

func TestDockerRunNameConflict(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	engine.images["scanner:v1"] = true
	d := newTestDocker(t, engine)

	spec := &Spec{Name: "acme-scanner", Image: "scanner:v1"}
	_, err := d.Run(ctx, spec)
	require.Nil(t, err)

	_, err = d.Run(ctx, spec)
	require.ErrorIs(t, err, ErrWorkloadConflict)
	assert.Equal(t, http.StatusConflict, apperrors.StatusOf(err))
	assert.Len(t, engine.created, 1)
}

func TestDockerRunOnce(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	engine.images["report:v1"] = true
	engine.exitCode = 3
	engine.output = "partial report\n"
	d := newTestDocker(t, engine)

	res, err := d.RunOnce(ctx, &Spec{Name: "acme-report-1", Image: "report:v1", Env: map[string]string{"STEP_CONFIG": "{}"}})
	require.Nil(t, err)
	assert.Equal(t, int64(3), res.ExitCode)
	assert.Equal(t, "partial report\n", res.Output)
	assert.Equal(t, 0, engine.pulls)
	assert.Empty(t, engine.containers, "job container is removed")
}

func TestDockerUnavailable(t *testing.T) {
	d, err := NewDocker(DockerOptions{Host: "tcp://127.0.0.1:1", APIVersion: "1.41"})
	require.NoError(t, err)
	defer d.Close()

	_, aerr := d.Get(context.Background(), "acme-scanner")
	require.ErrorIs(t, aerr, ErrRuntimeUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusOf(aerr))
}

func TestEnvList(t *testing.T) {
	s := &Spec{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, s.EnvList())
}
