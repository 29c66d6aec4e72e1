package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeStub    = "stub"
	ModeLLM     = "llm"
	ModeBackend = "backend"
)

type Config struct {
	Mode  string `yaml:"mode"`
	Debug bool   `yaml:"debug"`
	HTTP  struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Stub struct {
		Latency time.Duration `yaml:"latency"`
	} `yaml:"stub"`
	LLM struct {
		APIKey           string        `yaml:"api_key"`
		BaseURL          string        `yaml:"base_url"`
		Model            string        `yaml:"model"`
		MaxTokens        int64         `yaml:"max_tokens"`
		ThrottleInterval time.Duration `yaml:"throttle_interval"`
		Timeout          time.Duration `yaml:"timeout"`
		MaxRetries       int           `yaml:"max_retries"`
	} `yaml:"llm"`
	Backend struct {
		BaseURL string        `yaml:"base_url"`
		TopK    int           `yaml:"top_k"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`
	Matching struct {
		InterItemDelay time.Duration `yaml:"inter_item_delay"`
		MaxConcerns    int           `yaml:"max_concerns"`
	} `yaml:"matching"`
	Cache struct {
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
}

func Default() Config {
	var cfg Config
	cfg.Mode = ModeStub
	cfg.HTTP.Addr = ":8090"
	cfg.Log.Level = "info"
	cfg.Stub.Latency = 500 * time.Millisecond
	cfg.LLM.BaseURL = "https://api.anthropic.com/"
	cfg.LLM.Model = "claude-3-haiku-20240307"
	cfg.LLM.MaxTokens = 1000
	cfg.LLM.ThrottleInterval = time.Second
	cfg.LLM.Timeout = 10 * time.Second
	cfg.LLM.MaxRetries = 3
	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Backend.TopK = 5
	cfg.Backend.Timeout = 30 * time.Second
	cfg.Matching.InterItemDelay = 500 * time.Millisecond
	cfg.Matching.MaxConcerns = 6
	cfg.Cache.TTL = 24 * time.Hour
	return cfg
}

// Load reads path (when it exists), applies CM_* environment overrides and
// validates the result. Any error is meant to stop the process before the
// first request is served.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Mode = NormalizeMode(cfg.Mode)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NormalizeMode maps the legacy selector names onto the canonical ones.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "mock", ModeStub:
		return ModeStub
	case "production", "claude", ModeLLM:
		return ModeLLM
	case "fastapi", ModeBackend:
		return ModeBackend
	default:
		return strings.TrimSpace(mode)
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeStub:
	case ModeLLM:
		if c.LLM.APIKey == "" {
			return errors.New("missing llm.api_key (or CM_ANTHROPIC_API_KEY) for mode=llm")
		}
		if c.LLM.Model == "" {
			return errors.New("missing llm.model for mode=llm")
		}
		if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			return fmt.Errorf("invalid llm.base_url %q: %w", c.LLM.BaseURL, err)
		}
	case ModeBackend:
		if c.Backend.BaseURL == "" {
			return errors.New("missing backend.base_url (or CM_BACKEND_URL) for mode=backend")
		}
		if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
			return fmt.Errorf("invalid backend.base_url %q: %w", c.Backend.BaseURL, err)
		}
	default:
		return fmt.Errorf("unknown mode %q: use stub, llm or backend", c.Mode)
	}

	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("invalid llm.max_tokens %d: must be >= 1", c.LLM.MaxTokens)
	}
	if c.LLM.ThrottleInterval < 0 {
		return fmt.Errorf("invalid llm.throttle_interval %s: must be >= 0", c.LLM.ThrottleInterval)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("invalid llm.timeout %s: must be > 0", c.LLM.Timeout)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("invalid llm.max_retries %d: must be >= 0", c.LLM.MaxRetries)
	}
	if c.Backend.TopK < 1 || c.Backend.TopK > 20 {
		return fmt.Errorf("invalid backend.top_k %d: must be between 1 and 20", c.Backend.TopK)
	}
	if c.Stub.Latency < 0 || c.Matching.InterItemDelay < 0 {
		return errors.New("stub.latency and matching.inter_item_delay must be >= 0")
	}
	if c.Matching.MaxConcerns < 1 {
		return fmt.Errorf("invalid matching.max_concerns %d: must be >= 1", c.Matching.MaxConcerns)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CM_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("CM_DEBUG"); v != "" {
		cfg.Debug = parseBool(v, cfg.Debug)
	}
	if v := os.Getenv("CM_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CM_ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CM_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CM_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CM_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CM_CACHE_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("CM_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CM_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	durations := []struct {
		key   string
		field *time.Duration
	}{
		{"CM_STUB_LATENCY", &cfg.Stub.Latency},
		{"CM_LLM_THROTTLE_INTERVAL", &cfg.LLM.ThrottleInterval},
		{"CM_LLM_TIMEOUT", &cfg.LLM.Timeout},
		{"CM_BACKEND_TIMEOUT", &cfg.Backend.Timeout},
		{"CM_INTER_ITEM_DELAY", &cfg.Matching.InterItemDelay},
		{"CM_CACHE_TTL", &cfg.Cache.TTL},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.field = parsed
		}
	}

	ints := []struct {
		key   string
		field *int
	}{
		{"CM_LLM_MAX_RETRIES", &cfg.LLM.MaxRetries},
		{"CM_BACKEND_TOP_K", &cfg.Backend.TopK},
		{"CM_MAX_CONCERNS", &cfg.Matching.MaxConcerns},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			*i.field = parsed
		}
	}
	if v := os.Getenv("CM_LLM_MAX_TOKENS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CM_LLM_MAX_TOKENS %q: %w", v, err)
		}
		cfg.LLM.MaxTokens = parsed
	}
	return nil
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
