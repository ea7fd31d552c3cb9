// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	StoreDriver          string        `mapstructure:"STORE_DRIVER"`
	DBURL                string        `mapstructure:"DB_URL"`
	MongoURI             string        `mapstructure:"MONGODB_URI"`
	MongoDatabase        string        `mapstructure:"MONGODB_DATABASE"`
	GithubToken          string        `mapstructure:"GITHUB_TOKEN"`
	GithubBaseURL        string        `mapstructure:"GITHUB_BASE_URL"`
	ReposToSync          []string      `mapstructure:"REPOS_TO_SYNC"`
	SyncInterval         time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncConcurrency      int           `mapstructure:"SYNC_CONCURRENCY"`
	ReconcileParallelism int           `mapstructure:"RECONCILE_PARALLELISM"`
	MetadataTTL          time.Duration `mapstructure:"METADATA_TTL"`
	HTTPAddr             string        `mapstructure:"HTTP_ADDR"`
	XPConfigFile         string        `mapstructure:"XP_CONFIG_FILE"`
	CommitSyncLimit      int           `mapstructure:"COMMIT_SYNC_LIMIT"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Export .env into the process so env-based credential lookups see it too.
	_ = godotenv.Load()

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", DriverPostgres)
	viper.SetDefault("MONGODB_DATABASE", "insights")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("SYNC_CONCURRENCY", 5)
	viper.SetDefault("RECONCILE_PARALLELISM", 8)
	viper.SetDefault("METADATA_TTL", "1h")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("COMMIT_SYNC_LIMIT", 100)
	viper.SetDefault("REPOS_TO_SYNC", []string{})
	// Registered so Unmarshal picks them up from the environment.
	for _, key := range []string{"DB_URL", "MONGODB_URI", "GITHUB_TOKEN", "GITHUB_BASE_URL", "XP_CONFIG_FILE"} {
		viper.SetDefault(key, "")
	}

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields each store driver requires.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL is required when STORE_DRIVER=postgres")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	if c.SyncConcurrency < 1 {
		c.SyncConcurrency = 1
	}
	if c.ReconcileParallelism < 1 {
		c.ReconcileParallelism = 1
	}
	return nil
}
