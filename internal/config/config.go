package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/vitos/coin_tracker/internal/infrastructure/storage"
	"gopkg.in/yaml.v3"
)

var ErrMissingStorageURI = errors.New("storage uri is not configured")

type Config struct {
	Storage struct {
		URI                    string        `yaml:"uri"`
		MaxAttempts            int           `yaml:"max_attempts"`
		BaseDelay              time.Duration `yaml:"base_delay"`
		ConnectTimeout         time.Duration `yaml:"connect_timeout"`
		ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
		ProbeInterval          time.Duration `yaml:"probe_interval"`
	} `yaml:"storage"`
	Ingestion struct {
		Cadence           string        `yaml:"cadence"`
		ReadinessInterval time.Duration `yaml:"readiness_interval"`
		RunOnStart        bool          `yaml:"run_on_start"`
		CycleTimeout      time.Duration `yaml:"cycle_timeout"`
	} `yaml:"ingestion"`
	Upstream struct {
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		VsCurrency        string        `yaml:"vs_currency"`
		Order             string        `yaml:"order"`
		PerPage           int           `yaml:"per_page"`
		Page              int           `yaml:"page"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerMinute int           `yaml:"requests_per_minute"`
	} `yaml:"upstream"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// envOverrides are applied on top of the file when set.
type envOverrides struct {
	StorageURI string `envconfig:"STORAGE_URI"`
	MongoURI   string `envconfig:"MONGO_URI"`
	Cadence    string `envconfig:"FETCH_CADENCE"`
	Port       int    `envconfig:"PORT"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	APIKey     string `envconfig:"COINGECKO_API_KEY"`
}

func Default() *Config {
	var cfg Config
	cfg.Storage.MaxAttempts = 5
	cfg.Storage.BaseDelay = 2 * time.Second
	cfg.Storage.ConnectTimeout = 10 * time.Second
	cfg.Storage.ServerSelectionTimeout = 10 * time.Second
	cfg.Storage.ProbeInterval = 30 * time.Second
	cfg.Ingestion.Cadence = "*/5 * * * *"
	cfg.Ingestion.ReadinessInterval = 5 * time.Second
	cfg.Ingestion.RunOnStart = true
	cfg.Ingestion.CycleTimeout = 2 * time.Minute
	cfg.Upstream.BaseURL = "https://api.coingecko.com"
	cfg.Upstream.VsCurrency = "usd"
	cfg.Upstream.Order = "market_cap_desc"
	cfg.Upstream.PerPage = 10
	cfg.Upstream.Page = 1
	cfg.Upstream.Timeout = 10 * time.Second
	cfg.Upstream.RequestsPerMinute = 30
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"
	cfg.Server.Port = 5001
	return &cfg
}

// Load reads the YAML file at path over the defaults (a missing file is not
// an error), loads .env if present, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			decoder := yaml.NewDecoder(f)
			if err := decoder.Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	switch {
	case env.StorageURI != "":
		c.Storage.URI = env.StorageURI
	case env.MongoURI != "":
		c.Storage.URI = env.MongoURI
	}
	if env.Cadence != "" {
		c.Ingestion.Cadence = env.Cadence
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.APIKey != "" {
		c.Upstream.APIKey = env.APIKey
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Storage.URI == "" {
		return ErrMissingStorageURI
	}
	if err := storage.ValidateURI(c.Storage.URI); err != nil {
		return fmt.Errorf("storage.uri: %w", err)
	}
	if c.Storage.MaxAttempts < 1 {
		return fmt.Errorf("storage.max_attempts must be at least 1, got %d", c.Storage.MaxAttempts)
	}
	if c.Storage.BaseDelay < 0 {
		return fmt.Errorf("storage.base_delay must not be negative")
	}
	if _, err := cron.ParseStandard(c.Ingestion.Cadence); err != nil {
		return fmt.Errorf("ingestion.cadence %q: %w", c.Ingestion.Cadence, err)
	}
	if c.Ingestion.ReadinessInterval <= 0 {
		return fmt.Errorf("ingestion.readiness_interval must be positive")
	}
	if c.Upstream.PerPage < 1 || c.Upstream.Page < 1 {
		return fmt.Errorf("upstream.per_page and upstream.page must be at least 1")
	}
	return nil
}
