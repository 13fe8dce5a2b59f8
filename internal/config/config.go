// Package config loads and validates pipeline configuration via Viper.
// Precedence, lowest to highest: defaults, optional config file, optional
// .env file, real environment variables (EPC_ prefix).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dame-data/epc-ingest/internal/epc"
)

// Config captures all service configuration knobs.
type Config struct {
	ProjectID  string `mapstructure:"project_id"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	DatasetRaw string `mapstructure:"dataset_raw"`

	API     APIConfig     `mapstructure:"api"`
	Window  WindowConfig  `mapstructure:"window"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig governs EPC API access and retry behavior.
type APIConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	Email               string  `mapstructure:"email"`
	Key                 string  `mapstructure:"key"`
	PageSize            int     `mapstructure:"page_size"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	RetryMax            int     `mapstructure:"retry_max"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds"`
}

// WindowConfig is the default ingestion month window, overridable per run.
type WindowConfig struct {
	StartMonth string `mapstructure:"start_month"`
	EndMonth   string `mapstructure:"end_month"`
}

// PubSubConfig enables step-result notifications when Topic is set.
type PubSubConfig struct {
	Topic string `mapstructure:"topic"`
}

// MetricsConfig enables the ops HTTP server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional config file, an optional
// .env file and the environment. An empty envFile falls back to ENV_FILE or
// ".env"; a missing .env is not an error.
func Load(path, envFile string) (Config, error) {
	if envFile == "" {
		envFile = os.Getenv("ENV_FILE")
	}
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("EPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_id", "")
	v.SetDefault("region", "europe-west2")
	v.SetDefault("bucket", "")
	v.SetDefault("dataset_raw", "dame_epc")
	v.SetDefault("api.base_url", "https://epc.opendatacommunities.org/api/v1")
	v.SetDefault("api.email", "")
	v.SetDefault("api.key", "")
	v.SetDefault("api.page_size", 5000)
	v.SetDefault("api.timeout_seconds", 60)
	v.SetDefault("api.retry_max", 5)
	v.SetDefault("api.retry_backoff_seconds", 2.0)
	v.SetDefault("window.start_month", "")
	v.SetDefault("window.end_month", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. The month window
// is validated only when set; commands may override it with flags.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id must be set")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket must be set")
	}
	if c.Region == "" {
		return fmt.Errorf("region must be set")
	}
	if c.API.Email == "" || c.API.Key == "" {
		return fmt.Errorf("api.email and api.key must be set")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.RetryMax <= 0 {
		return fmt.Errorf("api.retry_max must be > 0")
	}
	if c.Window.StartMonth != "" || c.Window.EndMonth != "" {
		if _, _, err := c.MonthWindow(); err != nil {
			return err
		}
	}
	return nil
}

// MonthWindow parses and checks the configured ingestion window.
func (c Config) MonthWindow() (epc.Month, epc.Month, error) {
	start, err := epc.ParseMonth(c.Window.StartMonth)
	if err != nil {
		return epc.Month{}, epc.Month{}, fmt.Errorf("window.start_month: %w", err)
	}
	end, err := epc.ParseMonth(c.Window.EndMonth)
	if err != nil {
		return epc.Month{}, epc.Month{}, fmt.Errorf("window.end_month: %w", err)
	}
	if _, err := epc.MonthRange(start, end); err != nil {
		return epc.Month{}, epc.Month{}, err
	}
	return start, end, nil
}

// APITimeout converts the request timeout to a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RetryBackoff converts the backoff base to a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.API.RetryBackoffSeconds * float64(time.Second))
}
