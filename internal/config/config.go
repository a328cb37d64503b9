// Package config defines configuration for the ingestion daemon and book
// monitor. Config is loaded from a YAML file; SEQBOOK_* environment
// variables override only keys that appear in that file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly to the YAML
// file structure.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Book      BookConfig      `mapstructure:"book"`
	Events    EventsConfig    `mapstructure:"events"`
	Marketdata MarketdataConfig `mapstructure:"marketdata"`
	Surveillance SurveillanceConfig `mapstructure:"surveillance"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig selects and configures the byte source.
//
//   - Mode: "tcp" listens for one inbound connection on Addr; "replay"
//     reads a CSV file from ReplayPath and serves its rows as fast as the
//     decoder asks for them, with no pacing.
type SourceConfig struct {
	Mode       string `mapstructure:"mode"`
	Addr       string `mapstructure:"addr"`
	ReplayPath string `mapstructure:"replay_path"`
}

// BookConfig sizes the order book's bucket array.
type BookConfig struct {
	BasePrice uint32 `mapstructure:"base_price"`
	Length    int    `mapstructure:"length"`
	RingSize  int    `mapstructure:"ring_size"`
}

// EventsConfig controls the persisted event log.
type EventsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	SyncMode    bool   `mapstructure:"sync_mode"`
	RotateAfter int64  `mapstructure:"rotate_after"`
}

// MarketdataConfig controls market data distribution.
type MarketdataConfig struct {
	WebSocketAddr string `mapstructure:"websocket_addr"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// SurveillanceConfig tunes health-monitoring thresholds.
type SurveillanceConfig struct {
	Window             time.Duration `mapstructure:"window"`
	MaxDecodeErrorRate float64       `mapstructure:"max_decode_error_rate"`
	MaxOutOfRangeRate  float64       `mapstructure:"max_out_of_range_rate"`
	MinSampleSize      int           `mapstructure:"min_sample_size"`
}

// LoggingConfig controls the logger's verbosity and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns reasonable defaults for local development.
func Default() Config {
	return Config{
		Source: SourceConfig{Mode: "tcp", Addr: ":9000"},
		Book:   BookConfig{BasePrice: 0, Length: 1 << 20, RingSize: 4096},
		Events: EventsConfig{Enabled: true, Dir: "./data/events", RotateAfter: 64 << 20},
		Marketdata: MarketdataConfig{
			WebSocketAddr: ":9001",
			RedisPrefix:   "seqbook",
		},
		Surveillance: SurveillanceConfig{
			Window:             time.Minute,
			MaxDecodeErrorRate: 0.01,
			MaxOutOfRangeRate:  0.01,
			MinSampleSize:      100,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from a YAML file layered on top of Default. A SEQBOOK_*
// environment variable overrides a key only when that key is present in the
// file; with an empty path, Default is returned unchanged and environment
// variables are not consulted.
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := Default()
	v.SetEnvPrefix("SEQBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Source.Mode {
	case "tcp":
		if c.Source.Addr == "" {
			return fmt.Errorf("source.addr is required when source.mode is tcp")
		}
	case "replay":
		if c.Source.ReplayPath == "" {
			return fmt.Errorf("source.replay_path is required when source.mode is replay")
		}
	default:
		return fmt.Errorf("source.mode must be tcp or replay, got %q", c.Source.Mode)
	}
	if c.Book.Length <= 0 {
		return fmt.Errorf("book.length must be > 0")
	}
	if c.Book.RingSize <= 0 || c.Book.RingSize&(c.Book.RingSize-1) != 0 {
		return fmt.Errorf("book.ring_size must be a positive power of two")
	}
	return nil
}
