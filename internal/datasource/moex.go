package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/infra"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// ISS bond boards.
const (
	BoardCorporate  = "TQCB" // corporate bonds, T+
	BoardGovernment = "TQOB" // federal loan bonds (OFZ), T+
)

const (
	moexDefaultBase = "https://iss.moex.com/iss"
	colBoardID      = "BOARDID"
)

// MOEX is the Moscow Exchange ISS client for bond boards.
type MOEX struct {
	baseURL  string
	proxyURL string
	client   *http.Client
	cache    *infra.Cache[*models.Feed]
	limiter  *infra.RateLimiter
	shared   SnapshotCache
	cacheTTL time.Duration
	now      func() time.Time
}

// MOEXOption customizes a MOEX client.
type MOEXOption func(*MOEX)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) MOEXOption {
	return func(m *MOEX) { m.client = c }
}

// WithSnapshotCache adds a cache shared between processes.
func WithSnapshotCache(c SnapshotCache) MOEXOption {
	return func(m *MOEX) { m.shared = c }
}

// NewMOEX creates an ISS client from the feed config.
func NewMOEX(cfg config.FeedConfig, opts ...MOEXOption) *MOEX {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = moexDefaultBase
	}
	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 30
	}
	m := &MOEX{
		baseURL:  base,
		proxyURL: cfg.ProxyURL,
		client:   NewHTTPClient(cfg.Timeout()),
		cache:    infra.NewCache[*models.Feed](cfg.CacheTTL()),
		limiter:  infra.NewRateLimiter(perMin, time.Minute),
		cacheTTL: cfg.CacheTTL(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name returns the data source name.
func (m *MOEX) Name() string { return "MOEX ISS" }

// BoardURL returns the securities endpoint of a board.
func (m *MOEX) BoardURL(board string) string {
	return fmt.Sprintf("%s/engines/stock/markets/bonds/boards/%s/securities.json?iss.meta=off&iss.only=securities,marketdata",
		m.baseURL, url.PathEscape(board))
}

// issResponse is the ISS envelope with the two blocks we read.
type issResponse struct {
	Securities models.Table `json:"securities"`
	MarketData models.Table `json:"marketdata"`
}

// FetchBoard fetches one board. The direct endpoint is tried first; on any
// failure the request is retried once through the configured proxy. When
// both fail the result is a *FetchError carrying both causes.
func (m *MOEX) FetchBoard(ctx context.Context, board string) (*models.Feed, error) {
	board = strings.ToUpper(strings.TrimSpace(board))
	key := boardKey(board)

	if f, ok := m.cache.Get(key); ok {
		return f, nil
	}
	if f := m.fromShared(ctx, key); f != nil {
		m.cache.Set(key, f)
		return f, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	direct := m.BoardURL(board)
	raw, resp, err := m.fetchDecode(ctx, direct)
	source := "direct"
	if err != nil {
		log.Warn().Err(err).Str("board", board).Msg("direct ISS fetch failed")
		fe := &FetchError{Board: board, Direct: err}
		if m.proxyURL == "" || ctx.Err() != nil {
			return nil, fe
		}
		raw, resp, err = m.fetchDecode(ctx, m.proxyURL+url.QueryEscape(direct))
		if err != nil {
			fe.Proxy = err
			return nil, fe
		}
		source = "proxy"
	}

	f := m.buildFeed(board, resp, source, m.now())
	m.cache.Set(key, f)
	m.toShared(ctx, key, raw, f.FetchedAt)

	log.Debug().Str("board", board).Str("source", source).
		Int("securities", f.Securities.Len()).Int("marketdata", f.MarketData.Len()).
		Msg("fetched ISS board")
	return f, nil
}

// Invalidate drops cached copies of the given boards, in process and in the
// shared cache, so the next fetch hits the network. No boards flushes the
// in-process cache only.
func (m *MOEX) Invalidate(ctx context.Context, boards ...string) {
	if len(boards) == 0 {
		m.cache.Flush()
		return
	}
	keys := make([]string, len(boards))
	for i, b := range boards {
		keys[i] = boardKey(strings.ToUpper(strings.TrimSpace(b)))
		m.cache.Invalidate(keys[i])
	}
	if m.shared == nil {
		return
	}
	if err := m.shared.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("snapshot cache delete failed")
	}
}

func boardKey(board string) string { return "moex:board:" + board }

// sharedSnapshot is the shared-cache payload: the raw ISS body plus the time
// it was fetched from upstream.
type sharedSnapshot struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Body      json.RawMessage `json:"body"`
}

func (m *MOEX) fetchDecode(ctx context.Context, u string) ([]byte, *issResponse, error) {
	body, err := doGet(ctx, m.client, u, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := decodeISS(body)
	if err != nil {
		return nil, nil, err
	}
	return body, resp, nil
}

func decodeISS(body []byte) (*issResponse, error) {
	var resp issResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ISS response: %w", err)
	}
	if len(resp.Securities.Columns) == 0 {
		return nil, fmt.Errorf("decode ISS response: %w: securities block missing", ErrNoData)
	}
	return &resp, nil
}

// buildFeed wraps a decoded response, making sure every securities row
// carries its board id.
func (m *MOEX) buildFeed(board string, resp *issResponse, source string, fetchedAt time.Time) *models.Feed {
	sec := resp.Securities
	if sec.Index(colBoardID) < 0 {
		sec.Columns = append(sec.Columns, colBoardID)
		for i := range sec.Data {
			sec.Data[i] = append(sec.Data[i], board)
		}
	}
	return &models.Feed{
		Securities: sec,
		MarketData: resp.MarketData,
		Boards:     []string{board},
		FetchedAt:  fetchedAt,
		Source:     source,
	}
}

func (m *MOEX) fromShared(ctx context.Context, key string) *models.Feed {
	if m.shared == nil {
		return nil
	}
	raw, ok, err := m.shared.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	var snap sharedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil || len(snap.Body) == 0 || snap.FetchedAt.IsZero() {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached snapshot")
		return nil
	}
	resp, err := decodeISS(snap.Body)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached snapshot")
		return nil
	}
	board := strings.TrimPrefix(key, boardKey(""))
	return m.buildFeed(board, resp, "cache", snap.FetchedAt)
}

func (m *MOEX) toShared(ctx context.Context, key string, raw []byte, fetchedAt time.Time) {
	if m.shared == nil {
		return
	}
	data, err := json.Marshal(sharedSnapshot{FetchedAt: fetchedAt, Body: raw})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot cache encode failed")
		return
	}
	if err := m.shared.Set(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot cache write failed")
	}
}
