package domain

import "context"

// EmbeddingProvider is the interface for text embedding backends.
// Providers must return vectors of a consistent dimension for the lifetime
// of the store; the dimension is discovered from the first result, never
// separately configured.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "openai", "ollama").
	Name() string
}
