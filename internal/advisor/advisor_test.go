package advisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/llm"
	"github.com/moexbonds/moexbonds/pkg/models"
)

type fakeChat struct {
	calls []fakeCall
	err   error
}

type fakeCall struct {
	messages []llm.Message
	opts     llm.ChatOptions
}

func (f *fakeChat) Chat(_ context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error) {
	f.calls = append(f.calls, fakeCall{messages: messages, opts: *opts})
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: "## Вердикт: Покупать", Model: opts.Model, Provider: "fake"}, nil
}

type fakeNews struct {
	items []models.NewsItem
	err   error
}

func (f fakeNews) Headlines(context.Context, int) ([]models.NewsItem, error) { return f.items, f.err }

func testAdvisor(t *testing.T, chat Chatter, cfg config.AdvisorConfig, opts ...Option) *Advisor {
	t.Helper()
	a, err := New(chat, cfg, config.LLMConfig{Model: "google/gemini-2.0-flash-001", Temperature: 0.3, MaxTokens: 2048}, opts...)
	require.NoError(t, err)
	return a
}

func bonds(n int) []models.Bond {
	out := make([]models.Bond, n)
	for i := range out {
		out[i] = models.Bond{
			SecID:        fmt.Sprintf("RU%03d", i),
			ShortName:    fmt.Sprintf("Бонд%d", i),
			Price:        99,
			Yield:        18,
			Volume:       float64(i * 1000),
			MaturityDate: civil.Date{Year: 2028, Month: time.June, Day: 1},
		}
	}
	return out
}

func TestTopByVolume(t *testing.T) {
	in := bonds(40)
	top := TopByVolume(in, 30)
	require.Len(t, top, 30)
	assert.Equal(t, "RU039", top[0].SecID)
	assert.Equal(t, "RU010", top[29].SecID)
	assert.Equal(t, "RU000", in[0].SecID, "input order untouched")

	assert.Len(t, TopByVolume(in[:3], 30), 3)
}

func TestMarketRowsJSON(t *testing.T) {
	b := bonds(1)[0]
	b.OfferDate = models.Date(civil.Date{Year: 2027, Month: time.March, Day: 1})
	b.IsFloater = true

	s, err := MarketRowsJSON([]models.Bond{b})
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "RU000", rows[0]["Ticker"])
	assert.Equal(t, "2028-06-01", rows[0]["Maturity"])
	assert.Equal(t, "2027-03-01", rows[0]["OfferDate"])
	assert.Equal(t, true, rows[0]["IsFloater"])
}

func TestAnalyzeMarket(t *testing.T) {
	chat := &fakeChat{}
	a := testAdvisor(t, chat, config.AdvisorConfig{TopN: 30})

	res, err := a.AnalyzeMarket(context.Background(), bonds(40), "хочу короткие выпуски", "")
	require.NoError(t, err)
	assert.Equal(t, 30, res.BondsSent)
	assert.Equal(t, "## Вердикт: Покупать", res.Markdown)

	require.Len(t, chat.calls, 1)
	call := chat.calls[0]
	require.Len(t, call.messages, 2)
	assert.Equal(t, llm.RoleSystem, call.messages[0].Role)
	prompt := call.messages[1].Content
	assert.Contains(t, prompt, "хочу короткие выпуски")
	assert.Contains(t, prompt, `"Ticker":"RU039"`)
	assert.NotContains(t, prompt, `"Ticker":"RU009"`, "only the 30 most traded bonds are sent")
	assert.Equal(t, "google/gemini-2.0-flash-001", call.opts.Model)
	assert.Equal(t, 0.3, call.opts.Temperature)
}

func TestAnalyzeMarketEmptyQueryAndModelOverride(t *testing.T) {
	chat := &fakeChat{}
	a := testAdvisor(t, chat, config.AdvisorConfig{})

	_, err := a.AnalyzeMarket(context.Background(), bonds(2), "  ", "openai/gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, chat.calls[0].messages[1].Content, DefaultMarketQuery)
	assert.Equal(t, "openai/gpt-4o", chat.calls[0].opts.Model)
}

func TestAnalyzeMarketIncludesNews(t *testing.T) {
	news := fakeNews{items: []models.NewsItem{{
		Title:       "Банк России сохранил ключевую ставку",
		PublishedAt: time.Date(2026, 10, 10, 10, 0, 0, 0, time.UTC),
	}}}

	chat := &fakeChat{}
	a := testAdvisor(t, chat, config.AdvisorConfig{IncludeNews: true, NewsLimit: 5}, WithNews(news))
	_, err := a.AnalyzeMarket(context.Background(), bonds(2), "", "")
	require.NoError(t, err)
	assert.Contains(t, chat.calls[0].messages[1].Content, "Банк России сохранил ключевую ставку")

	chat = &fakeChat{}
	a = testAdvisor(t, chat, config.AdvisorConfig{IncludeNews: true}, WithNews(fakeNews{err: errors.New("rss down")}))
	_, err = a.AnalyzeMarket(context.Background(), bonds(2), "", "")
	require.NoError(t, err, "news failures are not fatal")
	assert.NotContains(t, chat.calls[0].messages[1].Content, "Свежие новости")
}

func TestAnalyzeBondCachesPerSnapshot(t *testing.T) {
	chat := &fakeChat{}
	a := testAdvisor(t, chat, config.AdvisorConfig{CacheSize: 4})
	rb := models.RatedBond{Bond: bonds(1)[0], Rating: models.RatingGem, CouponFrequency: 2, Currency: "RUB"}
	macro := models.MacroContext{KeyRate: 21, Inflation: 9, Date: civil.Date{Year: 2026, Month: time.October, Day: 16}}

	first, err := a.AnalyzeBond(context.Background(), rb, macro, "", 7)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	prompt := chat.calls[0].messages[1].Content
	assert.Contains(t, prompt, "RU000")
	assert.Contains(t, prompt, "21,00%")
	assert.Contains(t, prompt, "9,00%")
	assert.Contains(t, prompt, "Рискованно")
	assert.Contains(t, prompt, "GEM")

	second, err := a.AnalyzeBond(context.Background(), rb, macro, "", 7)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Len(t, chat.calls, 1)

	_, err = a.AnalyzeBond(context.Background(), rb, macro, "", 8)
	require.NoError(t, err)
	_, err = a.AnalyzeBond(context.Background(), rb, macro, "other/model", 8)
	require.NoError(t, err)
	assert.Len(t, chat.calls, 3, "new snapshot or model misses the cache")

	a.Purge()
	_, err = a.AnalyzeBond(context.Background(), rb, macro, "", 7)
	require.NoError(t, err)
	assert.Len(t, chat.calls, 4)
}

func TestAnalyzeWithoutKey(t *testing.T) {
	a := testAdvisor(t, nil, config.AdvisorConfig{})
	_, err := a.AnalyzeMarket(context.Background(), bonds(1), "", "")
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
	_, err = a.AnalyzeBond(context.Background(), models.RatedBond{}, models.MacroContext{}, "", 1)
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
}

func TestAnalyzeErrorIsWrapped(t *testing.T) {
	a := testAdvisor(t, &fakeChat{err: llm.ErrRateLimit}, config.AdvisorConfig{})
	_, err := a.AnalyzeBond(context.Background(), models.RatedBond{Bond: bonds(1)[0]}, models.MacroContext{}, "", 1)
	assert.ErrorIs(t, err, llm.ErrRateLimit)
	assert.Contains(t, err.Error(), "RU000")
}
