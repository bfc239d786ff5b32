// Package config loads the server configuration from an optional YAML file
// and TICKETX_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ticketx/ledger-engine/internal/position"
)

// EnvPrefix prefixes every environment override, e.g. TICKETX_HTTP_PORT.
const EnvPrefix = "TICKETX"

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr is the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory, postgres or sqlite
	PostgresURL string `mapstructure:"postgres_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"` // empty disables the cache
	TTL time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"` // empty disables publishing
	TopicTrades    string   `mapstructure:"topic_trades"`
	TopicProposals string   `mapstructure:"topic_proposals"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type LimitsConfig struct {
	MaxPerEvent int64 `mapstructure:"max_per_event"`
	MaxPerOrder int64 `mapstructure:"max_per_order"`
}

type NegotiationConfig struct {
	ProposalTTL   time.Duration `mapstructure:"proposal_ttl"` // 0 disables expiry
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LedgerConfig struct {
	SellPolicy     string `mapstructure:"sell_policy"`
	DefaultBalance string `mapstructure:"default_balance"`
}

type Config struct {
	ServiceName string            `mapstructure:"service_name"`
	Env         string            `mapstructure:"env"`
	LogLevel    string            `mapstructure:"log_level"`
	Currency    string            `mapstructure:"currency"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "ledger-engine")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("currency", "BRL")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.sqlite_path", "ledger.db")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_trades", "ticketx.trades")
	v.SetDefault("kafka.topic_proposals", "ticketx.proposals")
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("limits.max_per_event", 0)
	v.SetDefault("limits.max_per_order", 0)
	v.SetDefault("negotiation.proposal_ttl", "72h")
	v.SetDefault("negotiation.sweep_interval", "1m")
	v.SetDefault("ledger.sell_policy", "all")
	v.SetDefault("ledger.default_balance", "1000")
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive")
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := position.ParseSellPolicy(c.Ledger.SellPolicy); err != nil {
		return fmt.Errorf("ledger.sell_policy: %w", err)
	}
	bal, err := decimal.NewFromString(c.Ledger.DefaultBalance)
	if err != nil || bal.IsNegative() {
		return fmt.Errorf("ledger.default_balance must be a non-negative decimal, got %q", c.Ledger.DefaultBalance)
	}
	if c.Negotiation.ProposalTTL < 0 {
		return fmt.Errorf("negotiation.proposal_ttl must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.TopicTrades == "" || c.Kafka.TopicProposals == "") {
		return fmt.Errorf("kafka topics required when brokers are set")
	}
	return nil
}

// SellPolicy returns the parsed ledger sell policy.
func (c *Config) SellPolicy() position.SellPolicy {
	p, _ := position.ParseSellPolicy(c.Ledger.SellPolicy)
	return p
}

// DefaultBalance returns the parsed opening balance for new accounts.
func (c *Config) DefaultBalance() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Ledger.DefaultBalance)
	return d
}
