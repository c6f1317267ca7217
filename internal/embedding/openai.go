package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOpenAIDims  = 1536
)

// OpenAIEmbedder uses any OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder. An empty apiKey falls back to
// OPENAI_API_KEY; an empty baseURL to OPENAI_BASE_URL, then the public API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai embedder requires an API key (set OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if dims <= 0 {
		dims = defaultOpenAIDims
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts...), model: model, dims: dims}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings returned no data")
	}

	src := resp.Data[0].Embedding
	v := make(Vector, len(src))
	for i, f := range src {
		v[i] = float32(f)
	}
	return v, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }
