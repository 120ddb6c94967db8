package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	c := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// LoadFile reads a YAML config from disk.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// parseBool parses a string as boolean with a default value.
// Accepts: "true", "1", "yes" as true; empty or other values return default.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}

type Config struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Log struct {
		Level string `yaml:"level"`
		JSON  string `yaml:"json"`
	} `yaml:"log"`

	Auth struct {
		AccessSecret string `yaml:"access_secret"`
	} `yaml:"auth"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	OpenRouter struct {
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		CatalogURL string `yaml:"catalog_url"`
		Referer    string `yaml:"referer"`
		Title      string `yaml:"title"`
	} `yaml:"openrouter"`

	// Anthropic is optional. When an API key is set, anthropic/* models are
	// served directly instead of through OpenRouter.
	Anthropic struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"anthropic"`

	// ModelsFile overrides the embedded model catalog and is watched for changes.
	ModelsFile string `yaml:"models_file"`

	Registry struct {
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		RateLimitTTL    time.Duration `yaml:"rate_limit_ttl"`
		DefaultModel    string        `yaml:"default_model"`
	} `yaml:"registry"`

	Runner struct {
		MaxTurns           int           `yaml:"max_turns"`
		CandidatesPerTurn  int           `yaml:"candidates_per_turn"`
		AttemptsPerModel   int           `yaml:"attempts_per_model"`
		BackoffBase        time.Duration `yaml:"backoff_base"`
		ModelSwitchDelay   time.Duration `yaml:"model_switch_delay"`
		CodexLookupDelay   time.Duration `yaml:"codex_lookup_delay"`
		MaxTokens          int           `yaml:"max_tokens"`
		MaxTokensFree      int           `yaml:"max_tokens_free"`
		RequestTimeout     time.Duration `yaml:"request_timeout"`
		PostProcessTimeout time.Duration `yaml:"post_process_timeout"`
	} `yaml:"runner"`

	Billing struct {
		Markup float64 `yaml:"markup"`
	} `yaml:"billing"`

	Summarizer struct {
		KeepRecent    int           `yaml:"keep_recent"`
		MinCandidates int           `yaml:"min_candidates"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"summarizer"`

	RateLimit struct {
		Enabled           string `yaml:"enabled"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		Burst             int    `yaml:"burst"`
	} `yaml:"ratelimit"`
}

// Default returns the configuration used when a key is absent from YAML.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "costory"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8787
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "./data/costory.db"
	}
	if c.OpenRouter.BaseURL == "" {
		c.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.OpenRouter.CatalogURL == "" {
		c.OpenRouter.CatalogURL = "https://openrouter.ai/api/v1/models"
	}
	if c.OpenRouter.Title == "" {
		c.OpenRouter.Title = "CoStory"
	}
	if c.Registry.RefreshInterval <= 0 {
		c.Registry.RefreshInterval = time.Hour
	}
	if c.Registry.RateLimitTTL <= 0 {
		c.Registry.RateLimitTTL = 24 * time.Hour
	}
	if c.Registry.DefaultModel == "" {
		c.Registry.DefaultModel = "google/gemini-2.0-flash-exp:free"
	}
	r := &c.Runner
	if r.MaxTurns <= 0 {
		r.MaxTurns = 5
	}
	if r.CandidatesPerTurn <= 0 {
		r.CandidatesPerTurn = 3
	}
	if r.AttemptsPerModel <= 0 {
		r.AttemptsPerModel = 2
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = 2 * time.Second
	}
	if r.ModelSwitchDelay < 0 {
		r.ModelSwitchDelay = 0
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 6000
	}
	if r.MaxTokensFree <= 0 {
		r.MaxTokensFree = 1500
	}
	if r.RequestTimeout <= 0 {
		r.RequestTimeout = 3 * time.Minute
	}
	if r.PostProcessTimeout <= 0 {
		r.PostProcessTimeout = 2 * time.Minute
	}
	if c.Billing.Markup <= 0 {
		c.Billing.Markup = 5
	}
	if c.Summarizer.KeepRecent <= 0 {
		c.Summarizer.KeepRecent = 20
	}
	if c.Summarizer.MinCandidates <= 0 {
		c.Summarizer.MinCandidates = 5
	}
	if c.Summarizer.Timeout <= 0 {
		c.Summarizer.Timeout = time.Minute
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) IsJSONLogs() bool {
	return parseBool(c.Log.JSON, false)
}

func (c Config) IsRateLimitEnabled() bool {
	return parseBool(c.RateLimit.Enabled, true)
}
