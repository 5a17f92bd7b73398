// Package config loads the framework configuration from a file and from
// environment variables. The backing-store location is carried here as an
// explicit value handed to the store constructors, never read from ambient
// process state.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverRAMSQL   = "ramsql"
)

// StoreConfig locates the experiment backing store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // postgres or ramsql
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // driver-specific data source name
}

// Config is the framework configuration.
type Config struct {
	Store       StoreConfig   `mapstructure:"store" yaml:"store"`
	WritePeriod time.Duration `mapstructure:"write_period" yaml:"write_period"` // write buffering period
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
}

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string]string{
	"store.driver": "SWEEP_STORE_DRIVER",
	"store.dsn":    "SWEEP_STORE_DSN",
	"write_period": "SWEEP_WRITE_PERIOD",
	"log_level":    "SWEEP_LOG_LEVEL",
}

// Default returns the default configuration: an in-memory ramsql store and
// a one second write period.
func Default() Config {
	return Config{
		Store:       StoreConfig{Driver: DriverRAMSQL, DSN: "sweep-framework"},
		WritePeriod: time.Second,
		LogLevel:    "info",
	}
}

// Load reads the configuration from the given file, falling back to
// environment variables and defaults when the file does not exist.
func Load(filePath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return Config{}, err
	}
	setDefaults(v)

	// If the config file exists, read it; otherwise fall back to
	// environment variables and defaults.
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverRAMSQL:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store DSN must not be empty")
	}
	if c.WritePeriod < 0 {
		return errors.New("write period must not be negative")
	}

	return nil
}

// OpenStore opens the SQL experiment store the configuration points at.
func (c Config) OpenStore(ctx context.Context, lggr logger.Logger) (*datastore.SQLStore, error) {
	return datastore.OpenSQL(ctx, lggr, c.Store.Driver, c.Store.DSN)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("write_period", def.WritePeriod)
	v.SetDefault("log_level", def.LogLevel)
}

// bindEnvs binds the environment variable overrides to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}

	return nil
}
