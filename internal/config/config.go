// Package config loads the runtime configuration shared by every
// component. Loading itself (the out-of-scope CLI/file front-end) is a
// thin wrapper around the teacher's viper-based loader; the struct
// shape, defaulting, and validation are in-scope because every
// component depends on them.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MySQLConfig holds the persistence layer's relational connection
// settings.
type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"`
}

// DSN renders the MySQL connection string.
func (m MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		m.User, m.Password, m.Host, m.Port, m.Database, m.Charset)
}

// RedisConfig holds the cache layer's connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolsize"`
}

// Addr renders the host:port Redis address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AttributionConfig holds the external attribution service's connection
// settings.
type AttributionConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	RatePerSec   int           `mapstructure:"rate_per_sec"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FactorySignature describes one entry in the configurable factory-event
// signature registry (Design Notes §9: the authoritative signature list
// is not a hard-coded constant). DataWordIndex selects which 32-byte
// word of the log's non-indexed data carries the created contract's
// address (right-aligned, EVM ABI-encoded). The deployer of a factory
// deployment is always the transaction's recovered sender (spec.md
// §4.2: "deployer = tx origin"), never derived from the log.
type FactorySignature struct {
	Name          string `mapstructure:"name"`   // human label, e.g. "UniswapV2 PairCreated"
	Topic0        string `mapstructure:"topic0"` // 32-byte hex event signature hash
	DataWordIndex int    `mapstructure:"data_word_index"`
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	Chains            map[string][]string `mapstructure:"chains"`
	DefaultChains      []string            `mapstructure:"default_chains"`
	NonEVMChains       []string            `mapstructure:"non_evm_chains"`
	BlockCheckInterval time.Duration       `mapstructure:"block_check_interval"`
	BatchSize          int                 `mapstructure:"batch_size"`
	ConfirmationDepth  uint64              `mapstructure:"confirmation_depth"`
	LogLevel           string              `mapstructure:"log_level"`
	MySQL              MySQLConfig         `mapstructure:"mysql"`
	Redis              RedisConfig         `mapstructure:"redis"`
	Attribution        AttributionConfig   `mapstructure:"attribution"`
	FactorySignatures  []FactorySignature  `mapstructure:"factory_signatures"`
	WriteBatchSize     int                 `mapstructure:"write_batch_size"`
	WriteBatchInterval time.Duration       `mapstructure:"write_batch_interval"`
	ClassifyFanout     int                 `mapstructure:"classify_fanout"`
}

// Load reads config.yaml (with CONTRACTWATCH_ environment variable overrides)
// from the working directory or its parents, the same search path
// convention the teacher's viper loader uses.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetEnvPrefix("CONTRACTWATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.BlockCheckInterval == 0 {
		cfg.BlockCheckInterval = 12 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.MySQL.Charset == "" {
		cfg.MySQL.Charset = "utf8mb4"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 100
	}
	if cfg.Attribution.RatePerSec == 0 {
		cfg.Attribution.RatePerSec = 20
	}
	if cfg.Attribution.CacheTTL == 0 {
		cfg.Attribution.CacheTTL = time.Hour
	}
	if cfg.Attribution.RequestTimeout == 0 {
		cfg.Attribution.RequestTimeout = 10 * time.Second
	}
	if cfg.WriteBatchSize == 0 {
		cfg.WriteBatchSize = 100
	}
	if cfg.WriteBatchInterval == 0 {
		cfg.WriteBatchInterval = 500 * time.Millisecond
	}
	if cfg.ClassifyFanout == 0 {
		cfg.ClassifyFanout = 8
	}
}

// Validate enforces the invariants the rest of the pipeline assumes
// hold: at least one usable chain, a credential for attribution, and a
// complete persistence configuration.
func (c *Config) Validate() error {
	if len(c.SelectableChains()) == 0 {
		return fmt.Errorf("no usable EVM chains configured")
	}
	if c.Attribution.Token == "" {
		return fmt.Errorf("attribution service credential token is required")
	}
	if c.MySQL.Host == "" || c.MySQL.Port == 0 || c.MySQL.User == "" || c.MySQL.Database == "" {
		return fmt.Errorf("incomplete mysql configuration")
	}
	if c.Redis.Host == "" || c.Redis.Port == 0 {
		return fmt.Errorf("incomplete redis configuration")
	}
	return nil
}

// IsNonEVM reports whether chain is in the configured non-EVM skip list.
func (c *Config) IsNonEVM(chain string) bool {
	for _, n := range c.NonEVMChains {
		if n == chain {
			return true
		}
	}
	return false
}

// SelectableChains returns the configured EVM-compatible chain names
// that carry at least one RPC endpoint.
func (c *Config) SelectableChains() []string {
	out := make([]string, 0, len(c.Chains))
	for name, urls := range c.Chains {
		if c.IsNonEVM(name) || len(urls) == 0 {
			continue
		}
		out = append(out, name)
	}
	return out
}

// ResolveChains applies the "all" selection rule: an explicit non-empty
// selection is used verbatim (minus non-EVM/unconfigured names, which
// are skipped with a warning by the caller); an empty or "all" selection
// expands to every configured EVM chain.
func (c *Config) ResolveChains(selection []string) []string {
	if len(selection) == 0 {
		return c.SelectableChains()
	}
	for _, s := range selection {
		if s == "all" {
			return c.SelectableChains()
		}
	}
	out := make([]string, 0, len(selection))
	for _, name := range selection {
		if c.IsNonEVM(name) {
			continue
		}
		if _, ok := c.Chains[name]; !ok || len(c.Chains[name]) == 0 {
			continue
		}
		out = append(out, name)
	}
	return out
}
