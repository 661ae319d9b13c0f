package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"memvault/internal/domain"
)

// OpenAIOption configures the OpenAI embedding provider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIModel sets the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// WithOpenAIDimensions sets the embedding dimensions.
func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(p *OpenAIProvider) { p.dims = dims }
}

// WithOpenAIBaseURL sets a custom base URL.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = url }
}

// WithOpenAIClient sets a custom HTTP client.
func WithOpenAIClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = client }
}

// OpenAIProvider embeds text through the OpenAI embeddings API.
type OpenAIProvider struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  apiKey,
		model:   "text-embedding-3-small",
		dims:    1536,
		baseURL: "https://api.openai.com/v1",
		client:  defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data  []openaiEmbedData `json:"data"`
	Usage openaiEmbedUsage  `json:"usage"`
}

type openaiEmbedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type openaiEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: p.model}
	if err := postJSON(ctx, p.client, p.baseURL+"/embeddings", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: openai: %v", domain.ErrEmbeddingFailed, err)
	}

	// The API does not guarantee response order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	result := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		result[i] = d.Embedding
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*OpenAIProvider)(nil)
