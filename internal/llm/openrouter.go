package llm

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// OpenRouter defaults.
const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "google/gemini-2.0-flash-001"
	DefaultAppTitle        = "MOEX Bond Search"
)

// NewOpenRouterProvider creates an OpenAI-compatible provider pointed at
// OpenRouter. referer and title are sent as HTTP-Referer and X-Title,
// which OpenRouter uses for app attribution.
func NewOpenRouterProvider(apiKey, referer, title string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if title == "" {
		title = DefaultAppTitle
	}
	base := []OpenAIOption{
		WithOpenAIBaseURL(DefaultOpenRouterURL),
		WithOpenAIModel(DefaultOpenRouterModel),
		WithOpenAIHeader("HTTP-Referer", referer),
		WithOpenAIHeader("X-Title", title),
	}
	p, err := NewOpenAIProvider(apiKey, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	p.name = ProviderOpenRouter
	return p, nil
}

// ModelInfo describes one model offered by OpenRouter.
type ModelInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	ContextLength int          `json:"context_length"`
	Pricing       ModelPricing `json:"pricing"`
}

// ModelPricing is the per-token price in USD, as strings the way
// OpenRouter reports it.
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// IsFree reports zero prompt and completion prices.
func (m ModelInfo) IsFree() bool {
	return isZeroPrice(m.Pricing.Prompt) && isZeroPrice(m.Pricing.Completion)
}

func isZeroPrice(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.Trim(s, "0.") == ""
}

// ModelCatalog lists the models available on OpenRouter. The listing is
// public and needs no API key.
type ModelCatalog struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	models  []ModelInfo
	fetched time.Time
	ttl     time.Duration
}

// NewModelCatalog creates a catalog client; baseURL "" means OpenRouter.
func NewModelCatalog(baseURL string, client *http.Client) *ModelCatalog {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ModelCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		ttl:     time.Hour,
	}
}

// ListModels returns all models sorted by display name. Results are
// cached for an hour.
func (c *ModelCatalog) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.models != nil && time.Since(c.fetched) < c.ttl {
		return c.models, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list models: status %d", ErrProviderDown, resp.StatusCode)
	}

	var body struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("openrouter: decode models: %w", err)
	}

	SortModels(body.Data)
	c.models = body.Data
	c.fetched = time.Now()
	return c.models, nil
}

// SortModels orders models by name, falling back to ID for unnamed ones.
func SortModels(models []ModelInfo) {
	col := collate.New(language.English, collate.IgnoreCase)
	label := func(m ModelInfo) string {
		if m.Name != "" {
			return m.Name
		}
		return m.ID
	}
	slices.SortStableFunc(models, func(a, b ModelInfo) int {
		return col.CompareString(label(a), label(b))
	})
}
