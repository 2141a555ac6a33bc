package secrets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves the subset of the KV v2 API used by VaultBackend.
type fakeVault struct {
	mu      sync.Mutex
	data    map[string]map[string]any
	fail    bool
	lastTok string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTok = r.Header.Get("X-Vault-Token")
	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"errors":["internal error"]}`)
		return
	}
	switch {
	case r.URL.Path == "/v1/sys/health":
		io.WriteString(w, `{"initialized":true,"sealed":false,"standby":false}`)
	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodGet:
			payload, ok := f.data[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"errors":[]}`)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"data": payload, "metadata": map[string]any{"version": 1}},
			})
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]any `json:"data"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.data[key] = body.Data
			io.WriteString(w, `{"data":{"version":1}}`)
		}
	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
		if r.Method == http.MethodDelete {
			delete(f.data, key)
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errors":[]}`)
	}
}

func newTestVault(t *testing.T) (*fakeVault, *VaultBackend) {
	t.Helper()
	fv := &fakeVault{data: map[string]map[string]any{}}
	srv := httptest.NewServer(fv)
	t.Cleanup(srv.Close)
	be, err := NewVaultBackend(VaultOptions{Address: srv.URL, Token: "root", Mount: "secret", MaxRetries: 0})
	require.NoError(t, err)
	return fv, be
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	fv, be := newTestVault(t)
	b := NewBroker(be)

	require.Nil(t, b.Put(ctx, "acme", "openai", map[string]any{"api_key": "sk-1"}))
	assert.Equal(t, map[string]any{"api_key": "sk-1"}, fv.data["acme/providers/openai"])
	assert.Equal(t, "root", fv.lastTok)

	got, err := b.Get(ctx, "acme", "openai")
	require.Nil(t, err)
	assert.Equal(t, "sk-1", got["api_key"])

	got, err = b.Get(ctx, "acme", "missing")
	require.Nil(t, err)
	assert.Empty(t, got)

	require.Nil(t, b.Delete(ctx, "acme", "openai"))
	assert.NotContains(t, fv.data, "acme/providers/openai")

	require.NoError(t, be.WaitReady(ctx, 1))
}

func TestVaultBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	fv, be := newTestVault(t)
	fv.fail = true
	b := NewBroker(be)

	_, err := b.Get(ctx, "acme", "openai")
	assert.ErrorIs(t, err, ErrSecretStoreUnavailable)
	err = b.Put(ctx, "acme", "openai", map[string]any{"k": "v"})
	assert.ErrorIs(t, err, ErrSecretStoreUnavailable)
}
