// Package config loads the vigil service configuration from YAML, applies
// defaults, and validates the result. Secrets (SMTP password, Redis
// password, the age service key) can be supplied through environment
// variables so the file itself stays safe to commit.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root service configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Cipher  CipherConfig  `yaml:"cipher"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Redis   RedisConfig   `yaml:"redis"`
	Gate    GateConfig    `yaml:"gate"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes the tick pipeline.
type EngineConfig struct {
	TickInterval   Duration `yaml:"tick_interval"`
	TickBudget     Duration `yaml:"tick_budget"`
	BatchSize      int      `yaml:"batch_size"`
	Workers        int      `yaml:"workers"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffCap     Duration `yaml:"backoff_cap"`
}

// CipherConfig carries the age service identity. Key wins over KeyFile;
// the VIGIL_SERVICE_KEY environment variable wins over both.
type CipherConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
}

// SMTPConfig configures the email transport. An empty host disables email.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// RedisConfig configures the shared access-gate throttle. An empty address
// falls back to the in-process LRU throttle.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GateConfig tunes the access gate throttle.
type GateConfig struct {
	Threshold int      `yaml:"threshold"`
	Window    Duration `yaml:"window"`
}

// MetricsConfig exposes the Prometheus endpoint. An empty address disables
// it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "vigil.db"},
		Engine: EngineConfig{
			TickInterval:   Duration(time.Minute),
			TickBudget:     Duration(30 * time.Second),
			BatchSize:      100,
			Workers:        4,
			AttemptTimeout: Duration(5 * time.Second),
			BackoffBase:    Duration(time.Minute),
			BackoffCap:     Duration(time.Hour),
		},
		SMTP: SMTPConfig{Port: 587},
		Gate: GateConfig{
			Threshold: 10,
			Window:    Duration(15 * time.Minute),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file, layering it over the defaults and the
// secret environment variables over the file. An empty path returns the
// defaults with environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VIGIL_SERVICE_KEY"); v != "" {
		cfg.Cipher.Key = v
	}
	if v := os.Getenv("VIGIL_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("VIGIL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.TickInterval.Std() <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.BackoffBase.Std() <= 0 || c.Engine.BackoffCap.Std() < c.Engine.BackoffBase.Std() {
		return fmt.Errorf("engine backoff must be positive with cap >= base")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}
	return nil
}

// ServiceKey resolves the age identity from Key or KeyFile.
func (c CipherConfig) ServiceKey() (string, error) {
	if c.Key != "" {
		return c.Key, nil
	}
	if c.KeyFile != "" {
		raw, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return "", fmt.Errorf("read service key: %w", err)
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("no service key configured (set cipher.key, cipher.key_file, or VIGIL_SERVICE_KEY)")
}
