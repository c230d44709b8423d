// Package config handles configuration loading for moexbonds.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// EnvPrefix prefixes every environment override, e.g. MOEXBONDS_LLM_OPENROUTER_KEY.
const EnvPrefix = "MOEXBONDS"

// Config represents the complete application configuration.
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"     yaml:"feed"     json:"feed"`
	Screener ScreenerConfig `mapstructure:"screener" yaml:"screener" json:"screener"`
	LLM      LLMConfig      `mapstructure:"llm"      yaml:"llm"      json:"llm"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"  yaml:"advisor"  json:"advisor"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"      json:"api"`
	Refresh  RefreshConfig  `mapstructure:"refresh"  yaml:"refresh"  json:"refresh"`
	Redis    RedisConfig    `mapstructure:"redis"    yaml:"redis"    json:"redis"`
	Store    StoreConfig    `mapstructure:"store"    yaml:"store"    json:"store"`
	Macro    MacroConfig    `mapstructure:"macro"    yaml:"macro"    json:"macro"`
	News     NewsConfig     `mapstructure:"news"     yaml:"news"     json:"news"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"  json:"logging"`
}

// FeedConfig controls the MOEX ISS client.
type FeedConfig struct {
	BaseURL        string   `mapstructure:"base_url"         yaml:"base_url"         json:"base_url"`
	ProxyURL       string   `mapstructure:"proxy_url"        yaml:"proxy_url"        json:"proxy_url"` // "" disables the fallback
	Boards         []string `mapstructure:"boards"           yaml:"boards"           json:"boards"`
	TimeoutSec     int      `mapstructure:"timeout_sec"      yaml:"timeout_sec"      json:"timeout_sec"`
	CacheTTLSec    int      `mapstructure:"cache_ttl_sec"    yaml:"cache_ttl_sec"    json:"cache_ttl_sec"`
	RequestsPerMin int      `mapstructure:"requests_per_min" yaml:"requests_per_min" json:"requests_per_min"`
}

// Timeout returns the per-request timeout.
func (f FeedConfig) Timeout() time.Duration { return time.Duration(f.TimeoutSec) * time.Second }

// CacheTTL returns the in-process snapshot TTL.
func (f FeedConfig) CacheTTL() time.Duration { return time.Duration(f.CacheTTLSec) * time.Second }

// ScreenerConfig holds the initial view used by the CLI and the API.
type ScreenerConfig struct {
	Defaults ScreenerDefaults `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
}

// ScreenerDefaults are the product defaults of the filter panel.
type ScreenerDefaults struct {
	MinYield        float64 `mapstructure:"min_yield"         yaml:"min_yield"         json:"min_yield"`
	MaxPrice        float64 `mapstructure:"max_price"         yaml:"max_price"         json:"max_price"`
	MinVolume       float64 `mapstructure:"min_volume"        yaml:"min_volume"        json:"min_volume"`
	MaxDurationDays int     `mapstructure:"max_duration_days" yaml:"max_duration_days" json:"max_duration_days"`
	SortField       string  `mapstructure:"sort_field"        yaml:"sort_field"        json:"sort_field"`
	SortOrder       string  `mapstructure:"sort_order"        yaml:"sort_order"        json:"sort_order"`
	PageSize        int     `mapstructure:"page_size"         yaml:"page_size"         json:"page_size"`
}

// ViewState builds the initial ViewState. Unparseable sort settings fall
// back to the built-in default sort.
func (d ScreenerDefaults) ViewState() models.ViewState {
	vs := models.DefaultViewState()
	vs.Filters.MinYield = d.MinYield
	vs.Filters.MaxPrice = d.MaxPrice
	vs.Filters.MinVolume = d.MinVolume
	vs.Filters.MaxDurationDays = d.MaxDurationDays
	if f, err := models.ParseSortField(d.SortField); err == nil {
		vs.Sort.Field = f
	}
	if o, err := models.ParseSortOrder(d.SortOrder); err == nil {
		vs.Sort.Order = o
	}
	if d.PageSize >= 0 {
		vs.PageSize = d.PageSize
	}
	return vs
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Primary       string  `mapstructure:"primary"        yaml:"primary"        json:"primary"` // "openrouter", "openai", "gemini"
	OpenRouterKey string  `mapstructure:"openrouter_key" yaml:"openrouter_key" json:"-"`
	OpenRouterURL string  `mapstructure:"openrouter_url" yaml:"openrouter_url" json:"openrouter_url"`
	OpenAIKey     string  `mapstructure:"openai_key"     yaml:"openai_key"     json:"-"`
	OpenAIURL     string  `mapstructure:"openai_url"     yaml:"openai_url"     json:"openai_url"`
	GeminiKey     string  `mapstructure:"gemini_key"     yaml:"gemini_key"     json:"-"`
	Model         string  `mapstructure:"model"          yaml:"model"          json:"model"`
	FallbackModel string  `mapstructure:"fallback_model" yaml:"fallback_model" json:"fallback_model"`
	Temperature   float64 `mapstructure:"temperature"    yaml:"temperature"    json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"     yaml:"max_tokens"     json:"max_tokens"`
	TimeoutSec    int     `mapstructure:"timeout_sec"    yaml:"timeout_sec"    json:"timeout_sec"`
	Referer       string  `mapstructure:"referer"        yaml:"referer"        json:"referer"`
	Title         string  `mapstructure:"title"          yaml:"title"          json:"title"`
}

// AdvisorConfig controls prompt building and answer caching.
type AdvisorConfig struct {
	TopN        int  `mapstructure:"top_n"        yaml:"top_n"        json:"top_n"`
	IncludeNews bool `mapstructure:"include_news" yaml:"include_news" json:"include_news"`
	NewsLimit   int  `mapstructure:"news_limit"   yaml:"news_limit"   json:"news_limit"`
	CacheSize   int  `mapstructure:"cache_size"   yaml:"cache_size"   json:"cache_size"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// RefreshConfig schedules background feed refreshes while serving.
type RefreshConfig struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule" json:"schedule"` // cron spec; "" disables
	OnStart  bool   `mapstructure:"on_start" yaml:"on_start" json:"on_start"`
}

// RedisConfig enables the shared snapshot cache.
type RedisConfig struct {
	URL    string `mapstructure:"url"     yaml:"url"     json:"-"` // "" disables
	TTLSec int    `mapstructure:"ttl_sec" yaml:"ttl_sec" json:"ttl_sec"`
	Prefix string `mapstructure:"prefix"  yaml:"prefix"  json:"prefix"`
}

// StoreConfig locates the preferences file.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// MacroConfig holds the macro context defaults.
type MacroConfig struct {
	KeyRate   float64 `mapstructure:"key_rate"  yaml:"key_rate"  json:"key_rate"`
	Inflation float64 `mapstructure:"inflation" yaml:"inflation" json:"inflation"`
	Scrape    bool    `mapstructure:"scrape"    yaml:"scrape"    json:"scrape"`
	CBRURL    string  `mapstructure:"cbr_url"   yaml:"cbr_url"   json:"cbr_url"`
}

// NewsConfig lists RSS feeds quoted in market analysis prompts.
type NewsConfig struct {
	Feeds []string `mapstructure:"feeds" yaml:"feeds" json:"feeds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "console" or "json"
	Caller bool   `mapstructure:"caller" yaml:"caller" json:"caller"`
}

var (
	pathMu     sync.RWMutex
	activePath string
)

// ConfigFilePath returns the file the running config was loaded from, or
// the per-user default location when none was found.
func ConfigFilePath() string {
	pathMu.RLock()
	defer pathMu.RUnlock()
	if activePath != "" {
		return activePath
	}
	return filepath.Join(homeDir(), ".moexbonds", "config.yaml")
}

func setActivePath(p string) {
	pathMu.Lock()
	activePath = p
	pathMu.Unlock()
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.moexbonds/config.yaml (home directory)
//  3. /etc/moexbonds/config.yaml (system)
//
// Environment variables override config file values.
// Format: MOEXBONDS_<SECTION>_<KEY>, e.g., MOEXBONDS_LLM_OPENROUTER_KEY
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".moexbonds"))
	v.AddConfigPath("/etc/moexbonds")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		setActivePath(v.ConfigFileUsed())
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	setActivePath(path)

	return decode(v)
}

// SaveToFile writes cfg as YAML, creating parent directories as needed.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.base_url", "https://iss.moex.com/iss")
	v.SetDefault("feed.proxy_url", "https://api.allorigins.win/raw?url=")
	v.SetDefault("feed.boards", []string{"TQCB", "TQOB"})
	v.SetDefault("feed.timeout_sec", 20)
	v.SetDefault("feed.cache_ttl_sec", 60)
	v.SetDefault("feed.requests_per_min", 30)

	// Screener defaults (the dashboard's initial filter panel)
	v.SetDefault("screener.defaults.min_yield", 10.0)
	v.SetDefault("screener.defaults.max_price", 105.0)
	v.SetDefault("screener.defaults.min_volume", 0.0)
	v.SetDefault("screener.defaults.max_duration_days", 2000)
	v.SetDefault("screener.defaults.sort_field", "volume")
	v.SetDefault("screener.defaults.sort_order", "desc")
	v.SetDefault("screener.defaults.page_size", 25)

	// LLM defaults
	v.SetDefault("llm.primary", "openrouter")
	v.SetDefault("llm.openrouter_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.openai_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "google/gemini-2.0-flash-001")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout_sec", 90)
	v.SetDefault("llm.referer", "https://github.com/moexbonds/moexbonds")
	v.SetDefault("llm.title", "MOEX Bond Search")

	// Advisor defaults
	v.SetDefault("advisor.top_n", 30)
	v.SetDefault("advisor.include_news", false)
	v.SetDefault("advisor.news_limit", 5)
	v.SetDefault("advisor.cache_size", 128)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Refresh defaults: every 5 minutes during the main session, weekdays.
	v.SetDefault("refresh.schedule", "*/5 10-18 * * 1-5")
	v.SetDefault("refresh.on_start", true)

	// Redis is opt-in
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl_sec", 120)
	v.SetDefault("redis.prefix", "moexbonds:")

	v.SetDefault("store.path", "~/.moexbonds/state.yaml")

	// Macro defaults
	v.SetDefault("macro.key_rate", models.DefaultKeyRate)
	v.SetDefault("macro.inflation", models.DefaultInflation)
	v.SetDefault("macro.scrape", true)
	v.SetDefault("macro.cbr_url", "https://www.cbr.ru/hd_base/KeyRate/")

	v.SetDefault("news.feeds", []string{
		"https://www.moex.com/export/news.aspx?cat=100",
		"https://www.cbr.ru/rss/RssPress",
	})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.caller", false)
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The unprefixed names are honored as well since most users already export them.
func overrideFromEnv(cfg *Config) {
	if key := firstEnv(EnvPrefix+"_LLM_OPENROUTER_KEY", "OPENROUTER_API_KEY"); key != "" {
		cfg.LLM.OpenRouterKey = key
	}
	if key := firstEnv(EnvPrefix+"_LLM_OPENAI_KEY", "OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if key := firstEnv(EnvPrefix+"_LLM_GEMINI_KEY", "GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if url := os.Getenv(EnvPrefix + "_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
