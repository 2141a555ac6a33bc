package queryrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tansive/modhost/internal/common/httpclient"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrCollectionNotFound is returned by a ContextProvider when nothing was
// ever indexed for the collection.
var ErrCollectionNotFound = errors.New("collection not found")

// ContextProvider returns the text relevant to question from a collection.
type ContextProvider interface {
	Retrieve(ctx context.Context, collection, question string) (string, error)
}

// CollectionName scopes retrieval to one tenant's module.
func CollectionName(tenantID, moduleID string) string {
	return tenantID + "_" + moduleID
}

// ChromaRetriever queries a Chroma collection with an Ollama embedding of
// the question.
type ChromaRetriever struct {
	chroma *httpclient.Client
	ollama *httpclient.Client
	model  string
	topK   int
}

func NewChromaRetriever(chromaURL, ollamaURL, embeddingModel string, topK int) *ChromaRetriever {
	if topK <= 0 {
		topK = 3
	}
	return &ChromaRetriever{
		chroma: httpclient.NewClient(chromaURL),
		ollama: httpclient.NewClient(ollamaURL),
		model:  embeddingModel,
		topK:   topK,
	}
}

func (c *ChromaRetriever) Retrieve(ctx context.Context, collection, question string) (string, error) {
	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return "", err
	}
	embedding, err := c.embed(ctx, question)
	if err != nil {
		return "", err
	}

	body, _ := sjson.SetBytes(nil, "query_embeddings", [][]float64{embedding})
	body, _ = sjson.SetBytes(body, "n_results", c.topK)
	body, _ = sjson.SetBytes(body, "include", []string{"documents"})
	rsp, err := c.chroma.PostJSON(ctx, "/api/v1/collections/"+id+"/query", body)
	if err != nil {
		return "", fmt.Errorf("chroma query: %w", err)
	}

	var docs []string
	gjson.GetBytes(rsp, "documents.0").ForEach(func(_, v gjson.Result) bool {
		docs = append(docs, v.String())
		return true
	})
	return strings.Join(docs, "\n"), nil
}

func (c *ChromaRetriever) collectionID(ctx context.Context, name string) (string, error) {
	rsp, err := c.chroma.Get(ctx, "/api/v1/collections/"+url.PathEscape(name))
	if err != nil {
		var herr *httpclient.HTTPError
		// older Chroma servers report a missing collection as a 500
		if errors.As(err, &herr) && (herr.StatusCode == http.StatusNotFound || strings.Contains(herr.Message, "does not exist")) {
			return "", ErrCollectionNotFound
		}
		return "", fmt.Errorf("chroma collection: %w", err)
	}
	id := gjson.GetBytes(rsp, "id").String()
	if id == "" {
		return "", fmt.Errorf("chroma collection %s has no id", name)
	}
	return id, nil
}

func (c *ChromaRetriever) embed(ctx context.Context, text string) ([]float64, error) {
	body, _ := sjson.SetBytes(nil, "model", c.model)
	body, _ = sjson.SetBytes(body, "prompt", text)
	rsp, err := c.ollama.PostJSON(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	var vec []float64
	gjson.GetBytes(rsp, "embedding").ForEach(func(_, v gjson.Result) bool {
		vec = append(vec, v.Float())
		return true
	})
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding: empty vector")
	}
	return vec, nil
}
