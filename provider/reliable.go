package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sidekickcore/logger"
)

// isQuotaExhausted matches the vendor-agnostic quota/billing phrases that
// show up in 429 bodies regardless of HTTP status classification.
func isQuotaExhausted(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "billing")
}

// isNonRetryable classifies an error as a client error that will not resolve
// by retrying: any *APIError whose status is 4xx except 408 (timeout) and
// 429 (rate limit, transient), or a quota/billing phrase anywhere in the
// message. When err carries no structured status, it falls back to scanning
// the message for a bare 3-digit token in [400, 500).
func isNonRetryable(err error) bool {
	msg := err.Error()
	if isQuotaExhausted(msg) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 408 && apiErr.Status != 429
	}

	for _, word := range strings.FieldsFunc(msg, func(r rune) bool { return r < '0' || r > '9' }) {
		code, err := strconv.Atoi(word)
		if err != nil || code < 400 || code >= 500 {
			continue
		}
		return code != 429 && code != 408
	}
	return false
}

// namedProvider pairs a Provider with the name it is addressed by in the
// fallback chain, independent of what Provider.Name() reports (the same
// adapter type may appear twice under different model configurations).
type namedProvider struct {
	name     string
	provider Provider
}

// ReliableProvider wraps an ordered chain of providers with retry,
// exponential backoff, and non-retryable-error short-circuiting (§4.5).
// Each call attempts the first provider up to maxRetries+1 times (doubling
// backoff, capped at 10s), then moves to the next provider in the chain; a
// non-retryable error skips straight to the next provider without
// exhausting retries. If every provider fails, the aggregated per-attempt
// error list is returned.
type ReliableProvider struct {
	providers      []namedProvider
	maxRetries     int
	baseBackoff    time.Duration
}

// NewReliableProvider builds a fallback chain. baseBackoff is floored at
// 50ms, matching the original implementation's guard against a
// misconfigured zero backoff turning retries into a hot loop.
func NewReliableProvider(providers []namedProvider, maxRetries int, baseBackoff time.Duration) *ReliableProvider {
	logger.Init()
	if baseBackoff < 50*time.Millisecond {
		baseBackoff = 50 * time.Millisecond
	}
	return &ReliableProvider{providers: providers, maxRetries: maxRetries, baseBackoff: baseBackoff}
}

// NamedProvider constructs a (name, Provider) pair for NewReliableProvider's
// providers slice.
func NamedProvider(name string, p Provider) namedProvider {
	return namedProvider{name: name, provider: p}
}

func (r *ReliableProvider) Name() string {
	if len(r.providers) == 0 {
		return "reliable"
	}
	return r.providers[0].name
}

func (r *ReliableProvider) SupportsToolCalling() bool {
	if len(r.providers) == 0 {
		return false
	}
	return r.providers[0].provider.SupportsToolCalling()
}

func (r *ReliableProvider) SupportsStreaming() bool {
	if len(r.providers) == 0 {
		return false
	}
	return r.providers[0].provider.SupportsStreaming()
}

func (r *ReliableProvider) SupportsVision() bool {
	if len(r.providers) == 0 {
		return false
	}
	return r.providers[0].provider.SupportsVision()
}

func (r *ReliableProvider) Warmup(ctx context.Context) error {
	for _, np := range r.providers {
		log.Info().Str("provider", np.name).Msg("warming up provider connection pool")
		if err := np.provider.Warmup(ctx); err != nil {
			log.Warn().Err(err).Str("provider", np.name).Msg("warmup failed, non-fatal")
		}
	}
	return nil
}

// attempt runs call against the provider chain, retrying and falling back
// per the rules above. call must be a closure over the specific Provider
// method being dispatched (the four Provider methods differ in signature
// too much to share one generic call site cheaply).
func attempt[T any](r *ReliableProvider, call func(Provider) (T, error)) (T, error) {
	var zero T
	var failures []string

	for _, np := range r.providers {
		backoff := r.baseBackoff

		for i := 0; i <= r.maxRetries; i++ {
			resp, err := call(np.provider)
			if err == nil {
				if i > 0 {
					log.Info().Str("provider", np.name).Int("attempt", i).Msg("provider recovered after retries")
				}
				return resp, nil
			}

			nonRetryable := isNonRetryable(err)
			failures = append(failures, fmt.Sprintf("%s attempt %d/%d: %v", np.name, i+1, r.maxRetries+1, err))

			if nonRetryable {
				log.Warn().Str("provider", np.name).Msg("non-retryable error, switching provider")
				break
			}

			if i < r.maxRetries {
				log.Warn().Str("provider", np.name).Int("attempt", i+1).Int("maxRetries", r.maxRetries).Msg("provider call failed, retrying")
				time.Sleep(backoff)
				backoff *= 2
				if backoff > 10*time.Second {
					backoff = 10 * time.Second
				}
			}
		}

		log.Warn().Str("provider", np.name).Msg("switching to fallback provider")
	}

	return zero, fmt.Errorf("all providers failed. Attempts:\n%s", strings.Join(failures, "\n"))
}

func (r *ReliableProvider) ChatWithSystem(ctx context.Context, system, user, model string, temperature float32) (string, error) {
	return attempt(r, func(p Provider) (string, error) {
		return p.ChatWithSystem(ctx, system, user, model, temperature)
	})
}

func (r *ReliableProvider) ChatWithSystemFull(ctx context.Context, system, user, model string, temperature float32) (*ProviderResponse, error) {
	return attempt(r, func(p Provider) (*ProviderResponse, error) {
		return p.ChatWithSystemFull(ctx, system, user, model, temperature)
	})
}

func (r *ReliableProvider) ChatWithTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error) {
	return attempt(r, func(p Provider) (*ProviderResponse, error) {
		return p.ChatWithTools(ctx, req)
	})
}

func (r *ReliableProvider) ChatWithToolsStream(ctx context.Context, req ChatRequest, events chan<- StreamEvent) (*ProviderResponse, error) {
	return attempt(r, func(p Provider) (*ProviderResponse, error) {
		return p.ChatWithToolsStream(ctx, req, events)
	})
}
