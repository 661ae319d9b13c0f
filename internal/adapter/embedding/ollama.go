package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"memvault/internal/domain"
)

// Local models can be slow on first load, so Ollama gets a longer timeout
// than the hosted providers.
var defaultOllamaClient = &http.Client{Timeout: 60 * time.Second}

// OllamaOption configures the Ollama embedding provider.
type OllamaOption func(*OllamaProvider)

// WithOllamaModel sets the embedding model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) { p.model = model }
}

// WithOllamaDimensions sets the embedding dimensions.
func WithOllamaDimensions(dims int) OllamaOption {
	return func(p *OllamaProvider) { p.dims = dims }
}

// WithOllamaBaseURL sets a custom base URL.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(p *OllamaProvider) { p.baseURL = url }
}

// WithOllamaClient sets a custom HTTP client.
func WithOllamaClient(client *http.Client) OllamaOption {
	return func(p *OllamaProvider) { p.client = client }
}

// OllamaProvider embeds text through a local Ollama instance. It is the
// default provider: no API key, runs fully offline.
type OllamaProvider struct {
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewOllamaProvider creates an Ollama embedding provider.
// The baseURL defaults to http://localhost:11434.
func NewOllamaProvider(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		model:   "nomic-embed-text",
		dims:    768,
		baseURL: "http://localhost:11434",
		client:  defaultOllamaClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: p.model, Input: texts}
	if err := postJSON(ctx, p.client, p.baseURL+"/api/embed", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", domain.ErrEmbeddingFailed, err)
	}
	return resp.Embeddings, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *OllamaProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*OllamaProvider)(nil)
