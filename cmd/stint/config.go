package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stintio/stint/pkg/storage"
)

// Config maps the YAML config file.
type Config struct {
	Database struct {
		Driver       string `yaml:"driver"` // sqlite or postgres
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"database"`

	Engine struct {
		TimeBudget     time.Duration `yaml:"time_budget"`
		SafetyFraction float64       `yaml:"safety_fraction"`
		SaveEvery      int           `yaml:"save_every"`
		ResumeDelay    time.Duration `yaml:"resume_delay"`
	} `yaml:"engine"`

	Dispatcher struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		ClaimLimit   int           `yaml:"claim_limit"`
	} `yaml:"dispatcher"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "stint.db"
	cfg.Metrics.Port = 9090
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *Config) (*storage.Store, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var db *gorm.DB
	var err error
	switch cfg.Database.Driver {
	case "", "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.Database.DSN), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	var opts []storage.PoolOption
	if cfg.Database.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(cfg.Database.MaxOpenConns))
	}
	if cfg.Database.MaxIdleConns > 0 {
		opts = append(opts, storage.MaxIdleConns(cfg.Database.MaxIdleConns))
	}
	return storage.NewStoreWithPool(db, opts...)
}
