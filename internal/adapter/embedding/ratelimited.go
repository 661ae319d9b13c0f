package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"memvault/internal/domain"
)

// RateLimitedEmbedder throttles calls to the inner provider with a token
// bucket. Each Embed call waits for one token per input text, so batch
// calls consume proportionally to their size.
type RateLimitedEmbedder struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a limit of rps texts per second
// and the given burst. A non-positive rps returns inner unwrapped.
func NewRateLimitedEmbedder(inner domain.EmbeddingProvider, rps float64, burst int) domain.EmbeddingProvider {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed implements domain.EmbeddingProvider. One token is paid per input
// text; a batch larger than the burst waits in burst-sized chunks rather
// than being capped. Blocks until the limiter grants capacity or the
// context is cancelled.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	burst := r.limiter.Burst()
	for remaining := len(texts); remaining > 0; {
		n := remaining
		if n > burst {
			n = burst
		}
		if err := r.limiter.WaitN(ctx, n); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrEmbeddingFailed, err)
		}
		remaining -= n
	}
	return r.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Name() string { return r.inner.Name() }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*RateLimitedEmbedder)(nil)
