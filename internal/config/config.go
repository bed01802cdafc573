// Package config loads service configuration from defaults, an optional
// config.yaml, a .env file and STATEMENT_IMPORT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// STATEMENT_IMPORT_STORE_DRIVER.
const EnvPrefix = "STATEMENT_IMPORT"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
)

// Config is the complete service configuration.
type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		Driver     string `mapstructure:"driver"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	BigQuery struct {
		Project       string        `mapstructure:"project"`
		Dataset       string        `mapstructure:"dataset"`
		CategoriesTTL time.Duration `mapstructure:"categories_ttl"`
	} `mapstructure:"bigquery"`

	GCS struct {
		Bucket string `mapstructure:"bucket"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"gcs"`

	Uploads struct {
		LocalDir        string `mapstructure:"local_dir"`
		DefaultCurrency string `mapstructure:"default_currency"`
	} `mapstructure:"uploads"`

	Gemini struct {
		Enabled bool   `mapstructure:"enabled"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"gemini"`

	Notion struct {
		Token      string `mapstructure:"token"`
		DatabaseID string `mapstructure:"database_id"`
	} `mapstructure:"notion"`

	Events struct {
		ArchiveBucket string        `mapstructure:"archive_bucket"`
		ArchivePrefix string        `mapstructure:"archive_prefix"`
		Workers       int           `mapstructure:"workers"`
		MaxRetries    int           `mapstructure:"max_retries"`
		Backoff       time.Duration `mapstructure:"backoff"`
	} `mapstructure:"events"`

	Jobs struct {
		Workers    int           `mapstructure:"workers"`
		Buffer     int           `mapstructure:"buffer"`
		MaxRetries int           `mapstructure:"max_retries"`
		Backoff    time.Duration `mapstructure:"backoff"`
	} `mapstructure:"jobs"`
}

// Load reads the configuration. configFile may be empty, in which case
// config.yaml is looked up in the working directory and
// $HOME/.statement-import.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.statement-import")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by the Google and Notion tooling.
	_ = v.BindEnv("bigquery.project", EnvPrefix+"_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("gcs.bucket", EnvPrefix+"_GCS_BUCKET", "GCS_BUCKET")
	_ = v.BindEnv("notion.token", EnvPrefix+"_NOTION_TOKEN", "NOTION_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("Load: reading %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.sqlite_path", "data/statement-import.db")

	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("bigquery.categories_ttl", 5*time.Minute)

	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "statements")

	v.SetDefault("uploads.local_dir", "data/uploads")
	v.SetDefault("uploads.default_currency", "GBP")

	v.SetDefault("gemini.enabled", false)
	v.SetDefault("gemini.model", "gemini-2.5-flash")

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")

	v.SetDefault("events.archive_bucket", "")
	v.SetDefault("events.archive_prefix", "confirmations")
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.max_retries", 5)
	v.SetDefault("events.backoff", 2*time.Second)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.buffer", 100)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.backoff", time.Second)
}

// Validate checks values that would only fail later at startup.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "console" && f != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Log.Format)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case DriverBigQuery:
		if c.BigQuery.Project == "" {
			return fmt.Errorf("bigquery.project is required for the bigquery driver")
		}
		if c.BigQuery.Dataset == "" {
			return fmt.Errorf("bigquery.dataset is required for the bigquery driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (must be memory, sqlite or bigquery)", c.Store.Driver)
	}

	if (c.Notion.Token == "") != (c.Notion.DatabaseID == "") {
		return fmt.Errorf("notion.token and notion.database_id must be set together")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1, got: %d", c.Jobs.Workers)
	}
	if c.Jobs.MaxRetries < 0 || c.Events.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// NotionEnabled reports whether ledger posting is configured.
func (c *Config) NotionEnabled() bool {
	return c.Notion.Token != "" && c.Notion.DatabaseID != ""
}
