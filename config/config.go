package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the tickerdesk service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Market    MarketConfig    `mapstructure:"market"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Env       string `mapstructure:"env"`
}

// DatabasesConfig groups connection settings for backing stores.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("databases.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("databases.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("databases.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("databases.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// ProvidersConfig contains settings for the external answering capability.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible chat completions provider.
type OpenAIConfig struct {
	APIKey  string                 `mapstructure:"api_key"`
	BaseURL string                 `mapstructure:"base_url"`
	Models  map[string]ModelConfig `mapstructure:"models"`
	Routing RoutingConfig          `mapstructure:"routing"`
	Timeout time.Duration          `mapstructure:"timeout"`
}

// ModelConfig describes one model and its pricing.
type ModelConfig struct {
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// RoutingConfig maps execution modes to models. The deep model handles
// research-grade questions, the fast model handles quick lookups.
type RoutingConfig struct {
	Deep string `mapstructure:"deep"`
	Fast string `mapstructure:"fast"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("providers.openai.api_key required")
	}
	if o.Routing.Fast == "" {
		return fmt.Errorf("providers.openai.routing.fast required")
	}
	return nil
}

// MarketConfig configures the market-data enrichment sources.
type MarketConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MacroCacheTTL time.Duration `mapstructure:"macro_cache_ttl"`
}

// BudgetConfig holds default per-user spending caps, applied until a
// user overrides them. All values are in account currency units.
type BudgetConfig struct {
	DailyCap   float64 `mapstructure:"daily_cap"`
	MonthlyCap float64 `mapstructure:"monthly_cap"`
	SessionCap float64 `mapstructure:"session_cap"`
	QueryCap   float64 `mapstructure:"query_cap"`
}

func (b BudgetConfig) Validate() error {
	if b.DailyCap <= 0 || b.MonthlyCap <= 0 || b.SessionCap <= 0 || b.QueryCap <= 0 {
		return fmt.Errorf("budget caps must all be positive")
	}
	return nil
}

// JobsConfig controls background query execution.
type JobsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig controls the recurring-query scheduler.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoadConfig loads config from file, with TICKERDESK_* env overrides.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.timeout", 90*time.Second)
	viper.SetDefault("market.timeout", 15*time.Second)
	viper.SetDefault("market.max_retries", 1)
	viper.SetDefault("market.max_parallel", 4)
	viper.SetDefault("market.cache_ttl", 5*time.Minute)
	viper.SetDefault("market.macro_cache_ttl", time.Hour)
	viper.SetDefault("budget.daily_cap", 25.0)
	viper.SetDefault("budget.monthly_cap", 300.0)
	viper.SetDefault("budget.session_cap", 10.0)
	viper.SetDefault("budget.query_cap", 2.5)
	viper.SetDefault("jobs.timeout", 15*time.Minute)
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval", time.Minute)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TICKERDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Databases.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Databases.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Providers.OpenAI.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
