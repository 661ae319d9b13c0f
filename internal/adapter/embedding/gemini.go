package embedding

import (
	"context"
	"fmt"
	"net/http"

	"memvault/internal/domain"
)

// GeminiOption configures the Gemini embedding provider.
type GeminiOption func(*GeminiProvider)

// WithGeminiModel sets the embedding model.
func WithGeminiModel(model string) GeminiOption {
	return func(p *GeminiProvider) { p.model = model }
}

// WithGeminiDimensions sets the embedding dimensions.
func WithGeminiDimensions(dims int) GeminiOption {
	return func(p *GeminiProvider) { p.dims = dims }
}

// WithGeminiBaseURL sets a custom base URL.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(p *GeminiProvider) { p.baseURL = url }
}

// WithGeminiClient sets a custom HTTP client.
func WithGeminiClient(client *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.client = client }
}

// GeminiProvider embeds text through the Google Gemini batch embedding API.
type GeminiProvider struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewGeminiProvider creates a Gemini embedding provider.
func NewGeminiProvider(apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:  apiKey,
		model:   "text-embedding-004",
		dims:    768,
		baseURL: "https://generativelanguage.googleapis.com",
		client:  defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedContentRequest `json:"requests"`
}

type geminiEmbedContentRequest struct {
	Model   string       `json:"model"`
	Content geminiECPart `json:"content"`
}

type geminiECPart struct {
	Parts []geminiTextPart `json:"parts"`
}

type geminiTextPart struct {
	Text string `json:"text"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbedValues `json:"embeddings"`
}

type geminiEmbedValues struct {
	Values []float32 `json:"values"`
}

// Embed implements domain.EmbeddingProvider.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := geminiBatchEmbedRequest{Requests: make([]geminiEmbedContentRequest, len(texts))}
	for i, text := range texts {
		req.Requests[i] = geminiEmbedContentRequest{
			Model:   "models/" + p.model,
			Content: geminiECPart{Parts: []geminiTextPart{{Text: text}}},
		}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", p.baseURL, p.model)
	headers := map[string]string{"X-Goog-Api-Key": p.apiKey}
	var resp geminiBatchEmbedResponse
	if err := postJSON(ctx, p.client, url, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", domain.ErrEmbeddingFailed, err)
	}

	result := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		result[i] = e.Values
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *GeminiProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*GeminiProvider)(nil)
