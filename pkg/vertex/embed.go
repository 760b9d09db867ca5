package vertex

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	defaultEmbedModel = "text-embedding-004"
	defaultEmbedDims  = 768
)

// Embedder calls a Vertex AI text embedding model. It satisfies
// embed.Provider.
type Embedder struct {
	client *Client
	model  string
	dims   int
}

// NewEmbedder wraps client with an embedding model. Empty model and
// non-positive dims fall back to text-embedding-004 at 768 dimensions.
func NewEmbedder(client *Client, model string, dims int) *Embedder {
	if model == "" {
		model = defaultEmbedModel
	}
	if dims <= 0 {
		dims = defaultEmbedDims
	}
	return &Embedder{client: client, model: model, dims: dims}
}

type predictRequest struct {
	Instances []predictInstance `json:"instances"`
}

type predictInstance struct {
	Content string `json:"content"`
}

type predictResponse struct {
	Predictions []predictEmbedding `json:"predictions"`
}

type predictEmbedding struct {
	Embeddings predictEmbeddingValues `json:"embeddings"`
}

type predictEmbeddingValues struct {
	Values []float32 `json:"values"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no input texts provided")
	}
	instances := make([]predictInstance, 0, len(texts))
	for _, t := range texts {
		instances = append(instances, predictInstance{Content: t})
	}

	resp, err := e.client.post(ctx, e.client.modelURL(e.model, "predict"), predictRequest{Instances: instances})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Predictions) != len(texts) {
		return nil, fmt.Errorf("vertex embed: got %d predictions for %d texts", len(out.Predictions), len(texts))
	}
	vecs := make([][]float32, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		vecs = append(vecs, p.Embeddings.Values)
	}
	return vecs, nil
}

func (e *Embedder) Dimensions() int { return e.dims }
