// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AuthModeSession = "session"
	AuthModeDev     = "dev"
)

// Config is the full runtime configuration of cmd/api.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`

	AuthMode              string        `env:"AUTH_MODE" envDefault:"session"`
	SessionSigningKey     string        `env:"SESSION_SIGNING_KEY"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	MaxSessionsPerPersona int           `env:"MAX_SESSIONS_PER_PERSONA" envDefault:"5"`
	// DevPersona is the acting persona in dev auth mode when no
	// X-Debug-Persona header is sent.
	DevPersona string `env:"DEV_PERSONA"`

	// BootstrapAdminEmail and BootstrapAdminPassword create the first core
	// admin on an empty database.
	BootstrapAdminEmail    string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD"`

	// StaticDroidTokens is a list of name:secret pairs.
	StaticDroidTokens []string `env:"STATIC_DROID_TOKENS" envSeparator:","`

	GenesisConfirmSecret  string        `env:"GENESIS_CONFIRM_SECRET"`
	GenesisUnconfirmedTTL time.Duration `env:"GENESIS_UNCONFIRMED_TTL" envDefault:"48h"`

	EventKeeperRoot     string        `env:"EVENTKEEPER_ROOT"`
	EventKeeperInterval time.Duration `env:"EVENTKEEPER_INTERVAL" envDefault:"1h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromMap is Load with an explicit environment, for tests.
func LoadFromMap(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORAGE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q", StorageMemory, StoragePostgres))
	}
	switch c.AuthMode {
	case AuthModeSession, AuthModeDev:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be %q or %q", AuthModeSession, AuthModeDev))
	}
	if len(c.SessionSigningKey) < 32 {
		errs = append(errs, errors.New("SESSION_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.MaxSessionsPerPersona < 1 {
		errs = append(errs, errors.New("MAX_SESSIONS_PER_PERSONA must be at least 1"))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}
	if c.DevPersona != "" && c.AuthMode != AuthModeDev {
		errs = append(errs, errors.New("DEV_PERSONA is only allowed with AUTH_MODE=dev"))
	}
	if strings.TrimSpace(c.GenesisConfirmSecret) == "" {
		errs = append(errs, errors.New("GENESIS_CONFIRM_SECRET is required"))
	}
	if c.GenesisUnconfirmedTTL <= 0 {
		errs = append(errs, errors.New("GENESIS_UNCONFIRMED_TTL must be positive"))
	}
	if c.EventKeeperRoot != "" && c.EventKeeperInterval <= 0 {
		errs = append(errs, errors.New("EVENTKEEPER_INTERVAL must be positive"))
	}
	if _, err := c.StaticDroids(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StaticDroids returns the configured static droid secrets keyed by droid name.
func (c Config) StaticDroids() (map[string]string, error) {
	out := make(map[string]string, len(c.StaticDroidTokens))
	for _, pair := range c.StaticDroidTokens {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, secret, ok := strings.Cut(pair, ":")
		if !ok || name == "" || secret == "" {
			return nil, fmt.Errorf("STATIC_DROID_TOKENS entry %q must be name:secret", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("STATIC_DROID_TOKENS names %q twice", name)
		}
		out[name] = secret
	}
	return out, nil
}
