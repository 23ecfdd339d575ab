// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Discord   DiscordConfig   `yaml:"discord"`
	Economy   EconomyConfig   `yaml:"economy"`
	Dynmap    DynmapConfig    `yaml:"dynmap"`
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Admins may promote and delete markers they do not own.
	Admins []string `yaml:"admins"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "file", "postgres", or "memory"
	Path   string `yaml:"path"`   // data directory for the file driver
	DSN    string `yaml:"dsn"`    // connection string for the postgres driver
}

// DiscordConfig configures the approval channel gateway.
type DiscordConfig struct {
	Token             string `yaml:"token"`
	ApprovalChannelID string `yaml:"approval-channel-id"`
	AdsChannelID      string `yaml:"ads-channel-id"`
	MapURLFormat      string `yaml:"map-url-format"`
}

// EconomyConfig configures fees and the ledger backend. An empty
// LedgerEndpoint selects the in-process ledger.
type EconomyConfig struct {
	CreationFee       int64  `yaml:"creation-fee"`
	FeaturedFeePerDay int64  `yaml:"featured-fee-per-day"`
	CurrencyName      string `yaml:"currency-name"`
	LedgerEndpoint    string `yaml:"ledger-endpoint"`
	LedgerAPIKey      string `yaml:"ledger-api-key"`
}

// DynmapConfig configures the map-rendering gateway.
type DynmapConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api-key"`
	CommercialSet string `yaml:"commercial-set"`
	FeaturedSet   string `yaml:"featured-set"`
}

// ReconcileConfig configures the approval poller and the expiration sweep.
type ReconcileConfig struct {
	PollIntervalSeconds int    `yaml:"poll-interval-seconds"`
	ExpirySchedule      string `yaml:"expiry-schedule"`
}

// Load reads the configuration from the path in MAPADS_CONFIG, falling back
// to config.yaml in the working directory. A missing file yields defaults.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv("MAPADS_CONFIG"))
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFromPath(path)
}

// LoadFromPath reads and validates the configuration at path. Unset fields
// inherit their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "file", "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be file, postgres, or memory (got %q)", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	if c.Economy.CreationFee < 0 || c.Economy.FeaturedFeePerDay < 0 {
		return fmt.Errorf("economy fees must be non-negative")
	}
	if c.Reconcile.PollIntervalSeconds <= 0 {
		return fmt.Errorf("reconcile.poll-interval-seconds must be positive")
	}
	return nil
}

// Default returns the configuration used when no file is present. Fee and
// marker-set defaults match the shipped plugin configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data",
		},
		Discord: DiscordConfig{
			MapURLFormat: "https://map.1necat.net/?worldname=%s&mapname=flat&zoom=5&x=%.0f&y=%.0f&z=%.0f",
		},
		Economy: EconomyConfig{
			CreationFee:       10000,
			FeaturedFeePerDay: 30000,
			CurrencyName:      "ine",
		},
		Dynmap: DynmapConfig{
			CommercialSet: "commercial",
			FeaturedSet:   "ads",
		},
		Reconcile: ReconcileConfig{
			PollIntervalSeconds: 5,
			ExpirySchedule:      "@every 1m",
		},
	}
}
