package config

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every configurable value for the dashboard.
type Config struct {
	// Coordinator connection
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// Leaf connections, per-node mode only. Empty values fall back to the
	// coordinator's credentials.
	PerNode      bool   `mapstructure:"per_node"`
	LeafUser     string `mapstructure:"leaf_user"`
	LeafPassword string `mapstructure:"leaf_password"`

	// Polling and display
	UpdateInterval float64 `mapstructure:"update_interval"` // seconds
	Rows           int     `mapstructure:"rows"`
	Cores          float64 `mapstructure:"cores"` // overrides the detected CPU capacity when > 0

	// Diagnostics
	LogLevel    string `mapstructure:"log_level"` // debug|info|warn|error
	LogFile     string `mapstructure:"log_file"`  // stderr when empty
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Flags declares the command-line flags Load understands.
func Flags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "coordinator host")
	fs.Int("port", 3306, "coordinator port")
	fs.String("user", "root", "user")
	fs.String("password", "", "password")
	fs.String("database", "information_schema", "database to connect to")
	fs.Bool("per-node", false, "read the plan cache of every node and fold leaves into the coordinator")
	fs.String("leaf-user", "", "user for leaf connections (default: --user)")
	fs.String("leaf-password", "", "password for leaf connections (default: --password)")
	fs.Float64("update-interval", 3, "seconds between samples")
	fs.Int("rows", 40, "maximum number of rows shown")
	fs.Float64("cores", 0, "cpu capacity in cores when the server cannot report it")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
	fs.String("log-file", "", "log file (default: stderr)")
	fs.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9100")
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags that were set explicitly
//  2. environment variables (e.g. MEMSQL_TOP_HOST)
//  3. a yaml file (./configs/config.yaml) if it exists
//  4. the flag defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Flags use dashes; keys use underscores.
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, errors.Wrap(bindErr, "bind flags")
	}

	v.SetEnvPrefix("MEMSQL_TOP")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LeafUser == "" {
		cfg.LeafUser = cfg.User
	}
	if cfg.LeafPassword == "" {
		cfg.LeafPassword = cfg.Password
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host must not be empty")
	case c.Port <= 0 || c.Port > math.MaxUint16:
		return errors.Newf("port %d out of range", c.Port)
	case c.UpdateInterval <= 0:
		return errors.WithHint(
			errors.Newf("update interval must be positive, got %g", c.UpdateInterval),
			"Pass --update-interval in seconds, e.g. 0.5 or 3.")
	case c.Rows < 0:
		return errors.Newf("rows must not be negative, got %d", c.Rows)
	case c.Cores < 0:
		return errors.Newf("cores must not be negative, got %g", c.Cores)
	}
	return nil
}

// Interval returns the update interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval * float64(time.Second))
}
