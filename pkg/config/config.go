package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Cache struct {
		Redis struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port"`
			Password     string        `yaml:"password"`
			DB           int           `yaml:"db"`
			PoolSize     int           `yaml:"pool_size"`
			PoolTimeout  time.Duration `yaml:"pool_timeout"`
			MinIdleConns int           `yaml:"min_idle_conns"`
			Prefix       string        `yaml:"prefix"`
		} `yaml:"redis"`
		LocalMaxSize   int           `yaml:"local_max_size"`
		LocalTTLCap    time.Duration `yaml:"local_ttl_cap"`
		StaleRetention time.Duration `yaml:"stale_retention"`
		TTL            struct {
			Price      time.Duration `yaml:"price"`
			Financials time.Duration `yaml:"financials"`
			News       time.Duration `yaml:"news"`
			Analysis   time.Duration `yaml:"analysis"`
		} `yaml:"ttl"`
	} `yaml:"cache"`
	Health struct {
		ProbeInterval    time.Duration `yaml:"probe_interval"`
		ProbeTimeout     time.Duration `yaml:"probe_timeout"`
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		CooldownBase     time.Duration `yaml:"cooldown_base"`
		CooldownMax      time.Duration `yaml:"cooldown_max"`
	} `yaml:"health"`
	Registry struct {
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	} `yaml:"registry"`
	Providers struct {
		Finnhub struct {
			Enabled      bool          `yaml:"enabled"`
			APIKey       string        `yaml:"api_key"`
			BaseURL      string        `yaml:"base_url"`
			WebSocketURL string        `yaml:"websocket_url"`
			Priority     int           `yaml:"priority"`
			RatePerSec   float64       `yaml:"rate_per_sec"`
			Burst        int           `yaml:"burst"`
			CostPerCall  float64       `yaml:"cost_per_call"`
			PingInterval time.Duration `yaml:"ping_interval"`
		} `yaml:"finnhub"`
		AlphaVantage struct {
			Enabled     bool    `yaml:"enabled"`
			APIKey      string  `yaml:"api_key"`
			BaseURL     string  `yaml:"base_url"`
			Priority    int     `yaml:"priority"`
			RatePerSec  float64 `yaml:"rate_per_sec"`
			Burst       int     `yaml:"burst"`
			CostPerCall float64 `yaml:"cost_per_call"`
		} `yaml:"alphavantage"`
		Marketaux struct {
			Enabled     bool    `yaml:"enabled"`
			APIKey      string  `yaml:"api_key"`
			BaseURL     string  `yaml:"base_url"`
			Priority    int     `yaml:"priority"`
			RatePerSec  float64 `yaml:"rate_per_sec"`
			Burst       int     `yaml:"burst"`
			CostPerCall float64 `yaml:"cost_per_call"`
		} `yaml:"marketaux"`
	} `yaml:"providers"`
	Budgets map[string]BudgetLimits `yaml:"budgets"`
	LLM     struct {
		BaseURL       string        `yaml:"base_url"`
		APIKey        string        `yaml:"api_key"`
		Model         string        `yaml:"model"`
		ModelVersion  string        `yaml:"model_version"`
		MaxTokens     int           `yaml:"max_tokens"`
		PricePer1KIn  float64       `yaml:"price_per_1k_input"`
		PricePer1KOut float64       `yaml:"price_per_1k_output"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"llm"`
	Analysis struct {
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		DegradedTTL  time.Duration `yaml:"degraded_ttl"`
		Symbols      []string      `yaml:"symbols"`
	} `yaml:"analysis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// BudgetLimits holds spend caps for a single cost center.
type BudgetLimits struct {
	DailyLimit   float64 `yaml:"daily_limit"`
	MonthlyLimit float64 `yaml:"monthly_limit"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables. Overrides apply before validation so secrets can come from
// the environment alone.
func LoadWithEnv(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Providers.Finnhub.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		c.Providers.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("MARKETAUX_API_KEY"); v != "" {
		c.Providers.Marketaux.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Analysis.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Redis.Host = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.TTL.Price == 0 {
		c.Cache.TTL.Price = 5 * time.Minute
	}
	if c.Cache.TTL.Financials == 0 {
		c.Cache.TTL.Financials = 24 * time.Hour
	}
	if c.Cache.TTL.News == 0 {
		c.Cache.TTL.News = time.Hour
	}
	if c.Cache.TTL.Analysis == 0 {
		c.Cache.TTL.Analysis = 6 * time.Hour
	}
	if c.Cache.LocalMaxSize == 0 {
		c.Cache.LocalMaxSize = 1000
	}
	if c.Cache.LocalTTLCap == 0 {
		c.Cache.LocalTTLCap = 30 * time.Second
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = 24 * time.Hour
	}
	if c.Health.ProbeInterval == 0 {
		c.Health.ProbeInterval = 60 * time.Second
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 5 * time.Second
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.SuccessThreshold == 0 {
		c.Health.SuccessThreshold = 2
	}
	if c.Health.CooldownBase == 0 {
		c.Health.CooldownBase = 30 * time.Second
	}
	if c.Health.CooldownMax == 0 {
		c.Health.CooldownMax = 10 * time.Minute
	}
	if c.Registry.AttemptTimeout == 0 {
		c.Registry.AttemptTimeout = 8 * time.Second
	}
	if c.Analysis.FetchTimeout == 0 {
		c.Analysis.FetchTimeout = 20 * time.Second
	}
	if c.Analysis.DegradedTTL == 0 {
		c.Analysis.DegradedTTL = 15 * time.Minute
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.ModelVersion == "" {
		c.LLM.ModelVersion = "v1"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if !c.Providers.Finnhub.Enabled && !c.Providers.AlphaVantage.Enabled {
		return fmt.Errorf("at least one price provider must be enabled")
	}
	if c.Providers.Finnhub.Enabled && c.Providers.Finnhub.APIKey == "" {
		return fmt.Errorf("providers.finnhub.api_key is required when enabled")
	}
	if c.Providers.AlphaVantage.Enabled && c.Providers.AlphaVantage.APIKey == "" {
		return fmt.Errorf("providers.alphavantage.api_key is required when enabled")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	for name, b := range c.Budgets {
		if b.DailyLimit < 0 || b.MonthlyLimit < 0 {
			return fmt.Errorf("budgets.%s: limits must be non-negative", name)
		}
	}
	return nil
}
