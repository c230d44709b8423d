// Package advisor turns screener results into chat-model prompts and
// returns the model's Markdown analysis.
package advisor

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/llm"
	"github.com/moexbonds/moexbonds/internal/metrics"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// Chatter is the part of an LLM provider the advisor needs. *llm.Router
// satisfies it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error)
}

// HeadlineSource supplies recent news. *datasource.News satisfies it.
type HeadlineSource interface {
	Headlines(ctx context.Context, limit int) ([]models.NewsItem, error)
}

// Analysis is one model answer.
type Analysis struct {
	Markdown    string    `json:"markdown"`
	Model       string    `json:"model"`
	Provider    string    `json:"provider"`
	BondsSent   int       `json:"bonds_sent,omitempty"`
	Cached      bool      `json:"cached"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor builds prompts and calls the chat model.
type Advisor struct {
	chat    Chatter
	news    HeadlineSource
	cfg     config.AdvisorConfig
	opts    llm.ChatOptions
	cache   *lru.Cache
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes an Advisor.
type Option func(*Advisor)

// WithNews enables headlines in market prompts when the config allows it.
func WithNews(src HeadlineSource) Option {
	return func(a *Advisor) { a.news = src }
}

// WithMetrics records answer cache hits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Advisor) { a.metrics = m }
}

// New creates an Advisor. chat may be nil when no API key is configured;
// every analysis then fails with llm.ErrNoAPIKey.
func New(chat Chatter, cfg config.AdvisorConfig, llmCfg config.LLMConfig, opts ...Option) (*Advisor, error) {
	if cfg.TopN <= 0 {
		cfg.TopN = 30
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("advisor cache: %w", err)
	}

	a := &Advisor{
		chat: chat,
		cfg:  cfg,
		opts: llm.ChatOptions{
			Model:       llmCfg.Model,
			Temperature: llmCfg.Temperature,
			MaxTokens:   llmCfg.MaxTokens,
		},
		cache: cache,
		now:   time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// marketRow is the compact per-bond record sent in market prompts.
type marketRow struct {
	Ticker      string      `json:"Ticker"`
	Name        string      `json:"Name"`
	Price       float64     `json:"Price"`
	Yield       float64     `json:"Yield"`
	Maturity    civil.Date  `json:"Maturity"`
	Coupon      float64     `json:"Coupon"`
	OfferDate   *civil.Date `json:"OfferDate"`
	IsFloater   bool        `json:"IsFloater"`
	IsAmortized bool        `json:"IsAmortized"`
}

// TopByVolume returns the n most traded bonds, highest volume first.
// Ties keep their input order.
func TopByVolume(bonds []models.Bond, n int) []models.Bond {
	out := slices.Clone(bonds)
	slices.SortStableFunc(out, func(a, b models.Bond) int {
		return cmp.Compare(b.Volume, a.Volume)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// MarketRowsJSON encodes bonds as the compact JSON array used in prompts.
func MarketRowsJSON(bonds []models.Bond) (string, error) {
	rows := make([]marketRow, len(bonds))
	for i, b := range bonds {
		rows[i] = marketRow{
			Ticker:      b.SecID,
			Name:        b.ShortName,
			Price:       b.Price,
			Yield:       b.Yield,
			Maturity:    b.MaturityDate,
			Coupon:      b.CouponPercent,
			OfferDate:   b.OfferDate,
			IsFloater:   b.IsFloater,
			IsAmortized: b.IsAmortized,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode bonds: %w", err)
	}
	return string(data), nil
}

// AnalyzeMarket asks for three recommendations among the most liquid of
// bonds, which should be the currently filtered set. model "" uses the
// configured model.
func (a *Advisor) AnalyzeMarket(ctx context.Context, bonds []models.Bond, query, model string) (*Analysis, error) {
	if a.chat == nil {
		return nil, llm.ErrNoAPIKey
	}
	top := TopByVolume(bonds, a.cfg.TopN)
	rows, err := MarketRowsJSON(top)
	if err != nil {
		return nil, err
	}

	prompt := MarketPrompt(query, rows, a.headlines(ctx))
	resp, err := a.ask(ctx, prompt, model)
	if err != nil {
		return nil, fmt.Errorf("analyze market: %w", err)
	}
	log.Info().Int("bonds", len(top)).Str("model", resp.Model).Msg("market analysis generated")
	return &Analysis{
		Markdown:    resp.Content,
		Model:       resp.Model,
		Provider:    resp.Provider,
		BondsSent:   len(top),
		GeneratedAt: a.now(),
	}, nil
}

// AnalyzeBond asks for a verdict on one bond. Answers are cached per
// (SECID, model, snapshot sequence), so a refreshed feed gets a fresh
// answer.
func (a *Advisor) AnalyzeBond(ctx context.Context, rb models.RatedBond, macro models.MacroContext, model string, seq uint64) (*Analysis, error) {
	if a.chat == nil {
		return nil, llm.ErrNoAPIKey
	}
	if model == "" {
		model = a.opts.Model
	}
	key := cacheKey(rb.SecID, model, seq)
	if v, ok := a.cache.Get(key); ok {
		a.metrics.RecordCache("advisor", true)
		cached := *v.(*Analysis)
		cached.Cached = true
		return &cached, nil
	}
	a.metrics.RecordCache("advisor", false)

	resp, err := a.ask(ctx, BondPrompt(rb, macro), model)
	if err != nil {
		return nil, fmt.Errorf("analyze bond %s: %w", rb.SecID, err)
	}
	out := &Analysis{
		Markdown:    resp.Content,
		Model:       resp.Model,
		Provider:    resp.Provider,
		BondsSent:   1,
		GeneratedAt: a.now(),
	}
	a.cache.Add(key, out)
	log.Info().Str("secid", rb.SecID).Str("model", resp.Model).Msg("bond analysis generated")

	ret := *out
	return &ret, nil
}

// Purge drops all cached answers.
func (a *Advisor) Purge() { a.cache.Purge() }

func (a *Advisor) ask(ctx context.Context, prompt, model string) (*llm.Response, error) {
	opts := a.opts
	if model != "" {
		opts.Model = model
	}
	return a.chat.Chat(ctx, []llm.Message{
		llm.SystemMessage(SystemPrompt),
		llm.UserMessage(prompt),
	}, &opts)
}

func (a *Advisor) headlines(ctx context.Context) []models.NewsItem {
	if a.news == nil || !a.cfg.IncludeNews {
		return nil
	}
	items, err := a.news.Headlines(ctx, a.cfg.NewsLimit)
	if err != nil {
		log.Warn().Err(err).Msg("news unavailable, analyzing without headlines")
		return nil
	}
	return items
}

func cacheKey(secid, model string, seq uint64) string {
	return secid + "|" + model + "|" + strconv.FormatUint(seq, 10)
}
