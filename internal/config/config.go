// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// KassaConfig configures the provider gateway and the webhook trust
// boundary. AllowedCIDRs defaults to the provider's published egress
// ranges; LocalMode skips the origin check for tunnels and tests.
type KassaConfig struct {
	ShopID       string        `yaml:"shop_id"`
	SecretKey    string        `yaml:"secret_key"`
	ReturnURL    string        `yaml:"return_url"`
	AllowedCIDRs []string      `yaml:"allowed_cidrs"`
	LocalMode    bool          `yaml:"local_mode"`
	Timeout      time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	JWTSecret  string `yaml:"jwt_secret"`
	CronSecret string `yaml:"cron_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type SchedulerConfig struct {
	ChargeInterval    time.Duration `yaml:"charge_interval"`
	ChargeBatchLimit  int           `yaml:"charge_batch_limit"`
	ChargeWorkers     int           `yaml:"charge_workers"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileAfter    time.Duration `yaml:"reconcile_after"` // pending age before a record is reconciled
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kassa     KassaConfig     `yaml:"kassa"`
	Admin     AdminConfig     `yaml:"admin"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// defaultAllowedCIDRs are the provider's published webhook egress ranges.
var defaultAllowedCIDRs = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11/32",
	"77.75.156.35/32",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if len(cfg.Kassa.AllowedCIDRs) == 0 {
		cfg.Kassa.AllowedCIDRs = defaultAllowedCIDRs
	}
	if cfg.Kassa.Timeout <= 0 {
		cfg.Kassa.Timeout = 15 * time.Second
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8090
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	if cfg.Scheduler.ChargeInterval <= 0 {
		cfg.Scheduler.ChargeInterval = time.Hour
	}
	if cfg.Scheduler.ChargeBatchLimit <= 0 {
		cfg.Scheduler.ChargeBatchLimit = 100
	}
	if cfg.Scheduler.ChargeWorkers <= 0 {
		cfg.Scheduler.ChargeWorkers = 4
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = 15 * time.Minute
	}
	if cfg.Scheduler.ReconcileAfter <= 0 {
		cfg.Scheduler.ReconcileAfter = 30 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if !cfg.Kassa.LocalMode && (cfg.Kassa.ShopID == "" || cfg.Kassa.SecretKey == "") {
		return nil, errors.New("kassa.shop_id and kassa.secret_key are required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
