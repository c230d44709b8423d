package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/metrics"
)

// Router sends requests to the primary provider and falls back along a
// provider chain when it fails.
type Router struct {
	mu            sync.RWMutex
	providers     map[string]LLMProvider
	primary       string
	fallbacks     []string
	fallbackModel string
	maxRetries    int
	retryDelay    time.Duration
	metrics       *metrics.Metrics
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithFallbackModel sets a model to retry with when the requested model is
// rejected as invalid.
func WithFallbackModel(model string) RouterOption {
	return func(r *Router) { r.fallbackModel = model }
}

// WithMaxRetries sets the maximum number of retry attempts per provider.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithRouterMetrics counts requests per provider.
func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a new LLM router with the given primary provider.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]LLMProvider),
		primary:    primary,
		maxRetries: 2,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider to the router.
func (r *Router) RegisterProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (LLMProvider, error) {
	p, ok := r.GetProvider(r.primary)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat routes a chat request through the provider chain with fallback.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	chain := r.providerChain()
	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, name := range chain {
		provider, ok := r.GetProvider(name)
		if !ok {
			continue
		}

		resp, err := r.chatWithRetry(ctx, provider, messages, opts)
		if err != nil && errors.Is(err, ErrInvalidModel) && r.fallbackModel != "" {
			fb := ChatOptions{Model: r.fallbackModel}
			if opts != nil {
				fb.Temperature, fb.MaxTokens = opts.Temperature, opts.MaxTokens
			}
			log.Warn().Str("provider", name).Str("model", r.fallbackModel).Msg("model rejected, retrying with fallback model")
			resp, err = r.chatWithRetry(ctx, provider, messages, &fb)
		}
		r.metrics.RecordLLM(name, err)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		log.Warn().Err(err).Str("provider", name).Msg("llm provider failed, trying next")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrContextLength) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("llm/router: all providers failed, last error: %w", lastErr)
}

// HealthCheck pings all registered providers and returns their status.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p LLMProvider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}

	wg.Wait()
	return results
}

// Name returns the name of the primary provider (satisfies LLMProvider).
func (r *Router) Name() string {
	return "router/" + r.primary
}

// Ping checks the primary provider's health (satisfies LLMProvider).
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// ── Internal Helpers ──

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) chatWithRetry(ctx context.Context, provider LLMProvider, messages []Message, opts *ChatOptions) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := provider.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if isNonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isNonRetryable(err error) bool {
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrContextLength) ||
		errors.Is(err, context.Canceled)
}

// NewRouterFromConfig registers every provider that has a key. The
// configured primary goes first; the others become fallbacks in the order
// openrouter, openai, gemini. It returns ErrNoAPIKey when no provider has
// a key.
func NewRouterFromConfig(cfg config.LLMConfig, m *metrics.Metrics) (*Router, error) {
	client := &http.Client{Timeout: time.Duration(max(cfg.TimeoutSec, 1)) * time.Second}

	var registered []LLMProvider
	if cfg.OpenRouterKey != "" {
		p, err := NewOpenRouterProvider(cfg.OpenRouterKey, cfg.Referer, cfg.Title,
			WithOpenAIBaseURL(cfg.OpenRouterURL),
			WithOpenAIModel(cfg.Model),
			WithOpenAIHTTPClient(client),
		)
		if err == nil {
			registered = append(registered, p)
		}
	}
	if cfg.OpenAIKey != "" {
		p, err := NewOpenAIProvider(cfg.OpenAIKey,
			WithOpenAIBaseURL(cfg.OpenAIURL),
			WithOpenAIModel(openAIModelName(cfg.Model)),
			WithOpenAIHTTPClient(client),
		)
		if err == nil {
			registered = append(registered, p)
		}
	}
	if cfg.GeminiKey != "" {
		p, err := NewGeminiProvider(cfg.GeminiKey,
			WithGeminiModel(geminiModelName(cfg.Model)),
			WithGeminiHTTPClient(client),
		)
		if err == nil {
			registered = append(registered, p)
		}
	}
	if len(registered) == 0 {
		return nil, ErrNoAPIKey
	}

	primary := cfg.Primary
	if _, ok := findProvider(registered, primary); !ok {
		primary = registered[0].Name()
	}

	router := NewRouter(primary,
		WithMaxRetries(2),
		WithRetryDelay(time.Second),
		WithFallbackModel(cfg.FallbackModel),
		WithRouterMetrics(m),
	)
	var fallbacks []string
	for _, p := range registered {
		router.RegisterProvider(p)
		if p.Name() != primary {
			fallbacks = append(fallbacks, p.Name())
		}
	}
	router.fallbacks = fallbacks
	return router, nil
}

func findProvider(ps []LLMProvider, name string) (LLMProvider, bool) {
	for _, p := range ps {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// openAIModelName keeps OpenAI-native model IDs and maps OpenRouter-style
// vendor IDs to a default.
func openAIModelName(model string) string {
	if m, ok := strings.CutPrefix(model, "openai/"); ok && m != "" {
		return m
	}
	if model == "" || strings.Contains(model, "/") {
		return "gpt-4o-mini"
	}
	return model
}
