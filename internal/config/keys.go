package config

// APIKeySource represents where an API key comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of an API key.
type KeyStatus struct {
	Name   string       `json:"name"`
	Source APIKeySource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "sk-...abc"
}

// CheckAPIKeys returns the status of every secret the app can use.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("OpenRouter API Key", cfg.LLM.OpenRouterKey, EnvPrefix+"_LLM_OPENROUTER_KEY", "OPENROUTER_API_KEY"),
		checkKey("OpenAI API Key", cfg.LLM.OpenAIKey, EnvPrefix+"_LLM_OPENAI_KEY", "OPENAI_API_KEY"),
		checkKey("Gemini API Key", cfg.LLM.GeminiKey, EnvPrefix+"_LLM_GEMINI_KEY", "GEMINI_API_KEY"),
		checkKey("Redis URL", cfg.Redis.URL, EnvPrefix+"_REDIS_URL"),
	}
}

// HasLLMKey reports whether the primary provider has credentials.
func (c *Config) HasLLMKey() bool {
	switch c.LLM.Primary {
	case "openai":
		return c.LLM.OpenAIKey != ""
	case "gemini":
		return c.LLM.GeminiKey != ""
	default:
		return c.LLM.OpenRouterKey != ""
	}
}

// checkKey checks if a key is set and where it came from.
func checkKey(name, value string, envVars ...string) KeyStatus {
	status := KeyStatus{
		Name:   name,
		IsSet:  value != "",
		Source: KeySourceNone,
	}
	if value == "" {
		return status
	}

	status.Source = KeySourceConfig
	if firstEnv(envVars...) == value {
		status.Source = KeySourceEnv
	}
	status.Masked = maskKey(value)
	return status
}

// maskKey masks an API key for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
