package ragchat

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedLLMProvider throttles calls to the wrapped provider so a burst of
// conversation turns cannot exceed the upstream quota.
type RateLimitedLLMProvider struct {
	provider LLMProvider
	limiter  *rate.Limiter
}

// NewRateLimitedLLMProvider allows rps requests per second with the given burst.
func NewRateLimitedLLMProvider(provider LLMProvider, rps float64, burst int) *RateLimitedLLMProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedLLMProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GetResponse waits for a token, then delegates. A context that ends, or would
// end, before a token is available yields a context error.
func (p *RateLimitedLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return LLMResponse{}, ctxErr
		}
		if _, ok := ctx.Deadline(); ok {
			// The limiter refuses to wait past the deadline.
			return LLMResponse{}, fmt.Errorf("rate limiter: %w: %w", context.DeadlineExceeded, err)
		}
		return LLMResponse{}, fmt.Errorf("rate limiter: %w", err)
	}
	return p.provider.GetResponse(ctx, messages, config)
}
