package queryrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestLocalStrategy(t *testing.T) {
	var gotModel, gotPrompt, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(b, "model").String()
		gotPrompt = gjson.GetBytes(b, "messages.0.content").String()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"llama3",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"port 22"}}]}`)
	}))
	defer srv.Close()

	local := NewLocalStrategy(srv.URL, "llama3")
	assert.Equal(t, SourceLocal, local.Source())
	text, err := local.Complete(context.Background(), "Context: x")
	require.NoError(t, err)
	assert.Equal(t, "port 22", text)
	assert.Equal(t, "llama3", gotModel)
	assert.Equal(t, "Context: x", gotPrompt)
	assert.Equal(t, "Bearer ollama", gotAuth)
}

func TestLocalStrategyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewLocalStrategy(srv.URL, "llama3").Complete(context.Background(), "q")
	assert.Error(t, err)
}

func TestCloudStrategy(t *testing.T) {
	var got map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openai", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"text":"from the cloud"}]}`)
	}))
	defer srv.Close()

	cloud := NewCloudStrategy(srv.URL, "k1")
	text, err := cloud.Complete(context.Background(), "Context: \n\nQuestion: q\n\nAnswer:")
	require.NoError(t, err)
	assert.Equal(t, "from the cloud", text)
	assert.Equal(t, map[string]any{"prompt": "Context: \n\nQuestion: q\n\nAnswer:"}, got)
	assert.Equal(t, "Bearer k1", gotAuth)
}

func TestCloudStrategyFailures(t *testing.T) {
	status := http.StatusBadGateway
	body := `{"error":"upstream"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	cloud := NewCloudStrategy(srv.URL, "")
	_, err := cloud.Complete(context.Background(), "q")
	assert.ErrorContains(t, err, "upstream")

	status, body = http.StatusOK, `{"choices":[]}`
	_, err = cloud.Complete(context.Background(), "q")
	assert.Error(t, err)
}
