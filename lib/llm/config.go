package llm

import (
	"context"
	"fmt"
	"time"

	"groupsync/lib/configutil"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	// empty disables llm features, callers fall back to heuristics
	Provider          string  `json:"provider"`
	BaseUrl           string  `json:"base_url"`
	ApiKey            string  `json:"api_key"`
	ApiKeyFile        string  `json:"api_key_file"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	MaxRetries        int     `json:"max_retries"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	CacheSize         int     `json:"cache_size"`
	CacheTTLHours     int     `json:"cache_ttl_hours"`
}

func (c Config) Enabled() bool {
	return c.Provider != ""
}

func (c Config) WithDefaults() Config {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 20
	}
	if c.CacheSize == 0 {
		c.CacheSize = 256
	}
	if c.CacheTTLHours == 0 {
		c.CacheTTLHours = 24 * 7
	}
	return c
}

func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
	if c.Enabled() && c.ApiKey == "" && c.ApiKeyFile == "" {
		return ErrMissingApiKey
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("llm: max_retries must not be negative")
	}
	return nil
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// New builds the configured provider wrapped with rate limiting and,
// when cache is non-nil, the prompt cache.
func New(ctx context.Context, config Config, cache *Cache) (Provider, error) {
	config = config.WithDefaults()
	err := config.Validate()
	if err != nil {
		return nil, err
	}
	apiKey, err := configutil.ReadSecret(config.ApiKey, config.ApiKeyFile)
	if err != nil {
		return nil, fmt.Errorf("llm: read api key: %w", err)
	}

	var provider Provider
	switch config.Provider {
	case ProviderOpenAI:
		provider, err = NewOpenAIProvider(OpenAIOptions{
			BaseUrl:     config.BaseUrl,
			ApiKey:      apiKey,
			Model:       config.Model,
			Temperature: config.Temperature,
			Timeout:     time.Duration(config.TimeoutSeconds) * time.Second,
			MaxRetries:  config.MaxRetries,
		})
	case ProviderGemini:
		provider, err = NewGeminiProvider(ctx, apiKey, config.Model, config.Temperature)
	default:
		return nil, fmt.Errorf("llm: no provider configured")
	}
	if err != nil {
		return nil, err
	}

	provider = RateLimited(provider, config.RequestsPerMinute)
	if cache != nil {
		provider = NewCachedProvider(provider, cache)
	}
	return provider, nil
}
