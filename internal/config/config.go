package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Kind identifies which client implementation serves a registry.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
	KindMock   Kind = "mock"
)

// AuthMethod selects how requests against a remote registry authenticate.
type AuthMethod string

const (
	AuthNone   AuthMethod = "none"
	AuthBasic  AuthMethod = "basic"
	AuthBearer AuthMethod = "bearer"
	AuthToken  AuthMethod = "token"
)

type Config struct {
	Settings   Settings            `mapstructure:"settings"`
	Registries map[string]Registry `mapstructure:"registries"`
}

type Settings struct {
	PageSize          int           `mapstructure:"page_size"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	AutoLoadThreshold int           `mapstructure:"auto_load_threshold"`
	Insecure          bool          `mapstructure:"insecure"`
}

// Registry is the static descriptor for one backend. Immutable after load.
type Registry struct {
	ID        string     `mapstructure:"-"`
	Endpoint  string     `mapstructure:"endpoint"`
	Auth      AuthMethod `mapstructure:"auth"`
	Username  string     `mapstructure:"username"`
	Password  string     `mapstructure:"password"`
	Token     string     `mapstructure:"token"`
	Monitored []string   `mapstructure:"monitored"`
}

// Kind is inferred from the endpoint scheme: local://<runtime> and
// mock://<name> are synthetic sources, everything else is a remote registry.
func (r Registry) Kind() Kind {
	switch {
	case strings.HasPrefix(r.Endpoint, "local://"):
		return KindLocal
	case strings.HasPrefix(r.Endpoint, "mock://"):
		return KindMock
	default:
		return KindRemote
	}
}

// Runtime returns the runtime name for a local:// endpoint, empty otherwise.
// An empty name after the scheme means "probe for one".
func (r Registry) Runtime() string {
	if r.Kind() != KindLocal {
		return ""
	}
	return strings.TrimPrefix(r.Endpoint, "local://")
}

// Default settings, applied to any field the config file omits.
const (
	DefaultPageSize          = 100
	DefaultMaxParallel       = 4
	DefaultRequestTimeout    = 30 * time.Second
	DefaultAutoLoadThreshold = 1000
)

// Load builds the configuration from whatever viper has read. A missing or
// corrupt config file never aborts startup: the result degrades to defaults
// with an empty registry set.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.UnmarshalKey("settings", &cfg.Settings); err != nil {
		return nil, fmt.Errorf("unable to decode settings: %w", err)
	}
	// viper.UnmarshalKey decodes only what the file supplies, so a partial
	// [settings] table leaves the omitted fields zero. Backfill them here
	// rather than via SetDefault, which UnmarshalKey does not consult.
	cfg.Settings.applyDefaults()

	cfg.Registries = make(map[string]Registry)
	raw := make(map[string]Registry)
	if err := viper.UnmarshalKey("registries", &raw); err != nil {
		log.Warn().Err(err).Msg("Registry configuration unreadable, starting with an empty registry set")
		return &cfg, nil
	}

	for id, reg := range raw {
		reg.ID = id
		if err := validate(reg); err != nil {
			log.Warn().Str("registry", id).Err(err).Msg("Skipping invalid registry configuration")
			continue
		}
		if reg.Auth == "" {
			reg.Auth = AuthNone
		}
		cfg.Registries[id] = reg
	}

	return &cfg, nil
}

// applyDefaults fills zero or negative settings with their defaults.
func (s *Settings) applyDefaults() {
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.MaxParallel <= 0 {
		s.MaxParallel = DefaultMaxParallel
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.AutoLoadThreshold <= 0 {
		s.AutoLoadThreshold = DefaultAutoLoadThreshold
	}
}

// Descriptors returns the configured registries in deterministic ID order.
func (c *Config) Descriptors() []Registry {
	out := make([]Registry, 0, len(c.Registries))
	for _, reg := range c.Registries {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validate(r Registry) error {
	if r.Endpoint == "" && r.Kind() == KindRemote {
		return fmt.Errorf("endpoint is required")
	}
	switch r.Auth {
	case "", AuthNone:
	case AuthBasic:
		if r.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
	case AuthBearer:
		if r.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
	case AuthToken:
		if r.Username == "" {
			return fmt.Errorf("token auth requires credentials to exchange")
		}
	default:
		return fmt.Errorf("unknown auth method %q", r.Auth)
	}
	return nil
}
