package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"app"`

	Feed struct {
		Token            string `toml:"token"`
		WsURL            string `toml:"ws_url"`
		RestURL          string `toml:"rest_url"`
		BackoffFloorMs   int    `toml:"backoff_floor_ms"`
		BackoffCeilingMs int    `toml:"backoff_ceiling_ms"`
	} `toml:"feed"`

	Staleness struct {
		PeriodSec    int `toml:"period_sec"`
		ThresholdSec int `toml:"threshold_sec"`
	} `toml:"staleness"`

	Storage struct {
		Driver string `toml:"driver"` // "postgres" or "sqlite"
		DSN    string `toml:"dsn"`
		Path   string `toml:"path"`
	} `toml:"storage"`

	Redis struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
		DB      int    `toml:"db"`
		Prefix  string `toml:"prefix"`
		TTLSec  int    `toml:"ttl_sec"`
	} `toml:"redis"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":3000"
	}
	if cfg.Feed.WsURL == "" {
		cfg.Feed.WsURL = "wss://ws.finnhub.io"
	}
	if cfg.Feed.RestURL == "" {
		cfg.Feed.RestURL = "https://finnhub.io/api/v1"
	}
	if cfg.Feed.BackoffFloorMs <= 0 {
		cfg.Feed.BackoffFloorMs = 1000
	}
	if cfg.Feed.BackoffCeilingMs <= 0 {
		cfg.Feed.BackoffCeilingMs = 15000
	}
	if cfg.Staleness.PeriodSec <= 0 {
		cfg.Staleness.PeriodSec = 15
	}
	if cfg.Staleness.ThresholdSec <= 0 {
		cfg.Staleness.ThresholdSec = 60
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/pricepulse.db"
	}
	if cfg.Redis.TTLSec <= 0 {
		cfg.Redis.TTLSec = 300
	}
	// Credentials come from the environment when not in the file.
	if cfg.Feed.Token == "" {
		cfg.Feed.Token = strings.TrimSpace(os.Getenv("FINNHUB_TOKEN"))
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn empty but driver is postgres")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path empty but driver is sqlite")
		}
	default:
		return errors.New("storage.driver must be postgres or sqlite")
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.Feed.BackoffCeilingMs < cfg.Feed.BackoffFloorMs {
		return errors.New("feed.backoff_ceiling_ms below feed.backoff_floor_ms")
	}
	return nil
}

func (c *Config) BackoffFloor() time.Duration {
	return time.Duration(c.Feed.BackoffFloorMs) * time.Millisecond
}

func (c *Config) BackoffCeiling() time.Duration {
	return time.Duration(c.Feed.BackoffCeilingMs) * time.Millisecond
}

func (c *Config) StalenessPeriod() time.Duration {
	return time.Duration(c.Staleness.PeriodSec) * time.Second
}

func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.Staleness.ThresholdSec) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}
