package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Binance  BinanceConfig  `yaml:"binance"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Leverage LeverageConfig `yaml:"leverage"`
	Server   ServerConfig   `yaml:"server"`
	State    StateConfig    `yaml:"state"`
	Audit    AuditConfig    `yaml:"audit"`
	WS       WSConfig       `yaml:"ws"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type BinanceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Testnet bool          `yaml:"testnet"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CacheConfig struct {
	ExchangeInfoTTL   time.Duration `yaml:"exchange_info_ttl"`
	MarkPriceTTL      time.Duration `yaml:"mark_price_ttl"`
	MarkPriceCapacity int           `yaml:"mark_price_capacity"`
	PositionTTL       time.Duration `yaml:"position_ttl"`
}

type LeverageConfig struct {
	TTL time.Duration `yaml:"ttl"`
	Max int           `yaml:"max"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type AuditConfig struct {
	CSVPath     string `yaml:"csv_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	mainnetStreamURL = "wss://fstream.binance.com/ws"
	testnetStreamURL = "wss://stream.binancefuture.com/ws"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Binance.BaseURL == "" {
		if cfg.Binance.Testnet {
			cfg.Binance.BaseURL = testnetBaseURL
		} else {
			cfg.Binance.BaseURL = mainnetBaseURL
		}
	}
	if cfg.Binance.Timeout == 0 {
		cfg.Binance.Timeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 600 * time.Millisecond
	}
	if cfg.Cache.ExchangeInfoTTL == 0 {
		cfg.Cache.ExchangeInfoTTL = 30 * time.Second
	}
	if cfg.Cache.MarkPriceTTL == 0 {
		cfg.Cache.MarkPriceTTL = 2 * time.Second
	}
	if cfg.Cache.MarkPriceCapacity == 0 {
		cfg.Cache.MarkPriceCapacity = 512
	}
	if cfg.Cache.PositionTTL == 0 {
		cfg.Cache.PositionTTL = 5 * time.Second
	}
	if cfg.Leverage.TTL == 0 {
		cfg.Leverage.TTL = 300 * time.Second
	}
	if cfg.Leverage.Max == 0 {
		cfg.Leverage.Max = 25
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/futures-gateway.db"
	}
	if cfg.WS.URL == "" {
		if cfg.Binance.Testnet {
			cfg.WS.URL = testnetStreamURL
		} else {
			cfg.WS.URL = mainnetStreamURL
		}
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Leverage.Max < 1 {
		return errors.New("leverage.max must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Cache.MarkPriceCapacity < 1 {
		return errors.New("cache.mark_price_capacity must be >= 1")
	}
	if cfg.Binance.Testnet && !strings.Contains(cfg.Binance.BaseURL, "testnet") {
		return errors.New("binance.base_url does not match binance.testnet")
	}
	return nil
}

// APIKey and APISecret come from the environment rather than the config
// file so the YAML can be committed without credentials.
func APIKey() string    { return strings.TrimSpace(os.Getenv("BINANCE_API_KEY")) }
func APISecret() string { return strings.TrimSpace(os.Getenv("BINANCE_SECRET_KEY")) }

// AuthToken guards the HTTP API. Empty disables auth.
func AuthToken() string { return strings.TrimSpace(os.Getenv("AUTH_TOKEN")) }
