// Package config loads vacationd settings from a YAML file, VACATIOND_* environment variables
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendAPI  = "api"
	BackendIMAP = "imap"

	envPrefix = "VACATIOND"
)

type IMAPConfig struct {
	Address     string `mapstructure:"address"`
	SMTPAddress string `mapstructure:"smtp_address"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// Config is the full runtime configuration.
type Config struct {
	Label             string        `mapstructure:"label"`
	Body              string        `mapstructure:"body"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	PageSize          int           `mapstructure:"page_size"`
	RPS               int           `mapstructure:"rps"`
	DryRun            bool          `mapstructure:"dry_run"`
	SuppressAutomated bool          `mapstructure:"suppress_automated"`
	Backend           string        `mapstructure:"backend"`
	CredentialsFile   string        `mapstructure:"credentials_file"`
	TokenFile         string        `mapstructure:"token_file"`
	LogLevel          string        `mapstructure:"log_level"`
	IMAP              IMAPConfig    `mapstructure:"imap"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// Dir returns ~/.config/vacationd, falling back to the working directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vacationd")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("label", "Vacation Auto-Reply")
	v.SetDefault("body", "")
	v.SetDefault("min_interval", 45*time.Second)
	v.SetDefault("max_interval", 120*time.Second)
	v.SetDefault("page_size", 100)
	v.SetDefault("rps", 4)
	v.SetDefault("dry_run", false)
	v.SetDefault("suppress_automated", false)
	v.SetDefault("backend", BackendAPI)
	v.SetDefault("credentials_file", filepath.Join(Dir(), "credentials.json"))
	v.SetDefault("token_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("imap.address", "imap.gmail.com:993")
	v.SetDefault("imap.smtp_address", "smtp.gmail.com:465")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.cooldown", time.Minute)
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"label":              "label",
	"body":               "body",
	"min-interval":       "min_interval",
	"max-interval":       "max_interval",
	"page-size":          "page_size",
	"rps":                "rps",
	"dry-run":            "dry_run",
	"suppress-automated": "suppress_automated",
	"backend":            "backend",
	"credentials":        "credentials_file",
	"token-file":         "token_file",
	"log-level":          "log_level",
	"imap-username":      "imap.username",
}

// Load reads path (DefaultPath when empty), overlays the environment and any flags in fs that
// were set, and validates the result. A missing file is not an error.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Label) == "" {
		return errors.New("config: label must not be empty")
	}
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return fmt.Errorf("config: invalid interval window [%s, %s]", c.MinInterval, c.MaxInterval)
	}
	switch c.Backend {
	case BackendAPI:
	case BackendIMAP:
		if strings.TrimSpace(c.IMAP.Username) == "" {
			return errors.New("config: imap.username is required for the imap backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q (want %s or %s)", c.Backend, BackendAPI, BackendIMAP)
	}
	return nil
}
