package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// Preset is a named, saved view configuration.
type Preset struct {
	ID        string       `json:"id"         yaml:"id"`
	Name      string       `json:"name"       yaml:"name"`
	Filters   FilterConfig `json:"filters"    yaml:"filters"`
	Sort      SortKey      `json:"sort"       yaml:"sort"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
}

// Default macro context values used until the user or the Bank of Russia
// scraper supplies fresher numbers.
const (
	DefaultKeyRate   = 21.0
	DefaultInflation = 9.0
)

// MacroContext carries the key rate and inflation figures quoted in
// single-bond analysis prompts.
type MacroContext struct {
	KeyRate   float64    `json:"key_rate"  yaml:"key_rate"`  // % p.a.
	Inflation float64    `json:"inflation" yaml:"inflation"` // % y/y
	Date      civil.Date `json:"date"      yaml:"date"`
	Source    string     `json:"source"    yaml:"source"` // "default", "manual", "cbr"
}

// DefaultMacroContext returns the fallback context dated today.
func DefaultMacroContext(now time.Time) MacroContext {
	return MacroContext{
		KeyRate:   DefaultKeyRate,
		Inflation: DefaultInflation,
		Date:      civil.DateOf(now),
		Source:    "default",
	}
}

// NewsItem is one headline from an RSS feed.
type NewsItem struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}
