package datasource

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"

	"github.com/moexbonds/moexbonds/internal/infra"
)

const cbrKeyRateURL = "https://www.cbr.ru/hd_base/KeyRate/"

// KeyRate is one published Bank of Russia key rate value.
type KeyRate struct {
	Rate float64    `json:"rate"` // % p.a.
	Date civil.Date `json:"date"`
}

// CBR scrapes the Bank of Russia key rate history page.
type CBR struct {
	url     string
	client  *http.Client
	cache   *infra.Cache[KeyRate]
	limiter *infra.RateLimiter
}

// NewCBR creates a scraper for pageURL; "" means the public history page.
func NewCBR(pageURL string, client *http.Client) *CBR {
	if pageURL == "" {
		pageURL = cbrKeyRateURL
	}
	if client == nil {
		client = NewHTTPClient(15 * time.Second)
	}
	return &CBR{
		url:     pageURL,
		client:  client,
		cache:   infra.NewCache[KeyRate](6 * time.Hour),
		limiter: infra.NewRateLimiter(1, time.Second), // conservative: 1 req/s
	}
}

// Name returns the data source name.
func (c *CBR) Name() string { return "Bank of Russia" }

// KeyRate returns the most recent key rate in the history table.
func (c *CBR) KeyRate(ctx context.Context) (KeyRate, error) {
	if kr, ok := c.cache.Get("keyrate"); ok {
		return kr, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return KeyRate{}, err
	}

	body, err := doGet(ctx, c.client, c.url, map[string]string{"Accept": "text/html"})
	if err != nil {
		return KeyRate{}, fmt.Errorf("cbr key rate: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return KeyRate{}, fmt.Errorf("cbr key rate: parse HTML: %w", err)
	}

	kr, err := parseKeyRateTable(doc)
	if err != nil {
		return KeyRate{}, err
	}
	c.cache.Set("keyrate", kr)
	return kr, nil
}

// parseKeyRateTable reads the first row of the "Дата | Ставка" table. The
// page lists the newest date first.
func parseKeyRateTable(doc *goquery.Document) (KeyRate, error) {
	var (
		out   KeyRate
		found bool
	)
	doc.Find("table.data tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return true // header row
		}
		date, err := parseRuDate(cells.Eq(0).Text())
		if err != nil {
			return true
		}
		rate, err := parseRuFloat(cells.Eq(1).Text())
		if err != nil {
			return true
		}
		out = KeyRate{Rate: rate, Date: date}
		found = true
		return false
	})
	if !found {
		return KeyRate{}, fmt.Errorf("cbr key rate: %w", ErrNoData)
	}
	return out, nil
}

// parseRuDate parses "16.10.2026".
func parseRuDate(s string) (civil.Date, error) {
	t, err := time.Parse("02.01.2006", strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

// parseRuFloat parses numbers written with a decimal comma and optional
// spaces or a trailing percent sign: "16,50", "1 234,5 %".
func parseRuFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	return strconv.ParseFloat(s, 64)
}
