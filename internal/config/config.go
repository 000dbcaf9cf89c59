// Package config loads the panes configuration using Viper from a YAML file,
// PANES_ environment variables and command-line flags.
//
// Sections: server (HTTP listener and websocket origins), storage (where the
// buffers are persisted), render (debounce and sandbox limits), console and
// log.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/panes/internal/errors"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".panes.yml"

// EnvPrefix prefixes every environment override, e.g. PANES_SERVER_PORT.
const EnvPrefix = "PANES"

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Render  RenderConfig  `yaml:"render" mapstructure:"render"`
	Console ConsoleConfig `yaml:"console" mapstructure:"console"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	Open           bool     `yaml:"open" mapstructure:"open"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// Websocket commands per second, per connection. Also bounds the
	// mutating HTTP routes per client IP.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	Path       string `yaml:"path" mapstructure:"path"`
	Namespace  string `yaml:"namespace" mapstructure:"namespace"`
	QuotaBytes int64  `yaml:"quota_bytes" mapstructure:"quota_bytes"`
}

type RenderConfig struct {
	Debounce     time.Duration `yaml:"debounce" mapstructure:"debounce"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTimers    int           `yaml:"max_timers" mapstructure:"max_timers"`
	MaxCallStack int           `yaml:"max_call_stack" mapstructure:"max_call_stack"`
}

type ConsoleConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// BindEnv lets PANES_<SECTION>_<KEY> override the matching key on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)
}

// SetDefaults registers the default of every key on v. Registering them is
// also what lets AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.open", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", ".panes/panes.db")
	v.SetDefault("storage.namespace", "")
	v.SetDefault("storage.quota_bytes", 5*1024*1024)

	v.SetDefault("render.debounce", 500*time.Millisecond)
	v.SetDefault("render.timeout", 2*time.Second)
	v.SetDefault("render.max_timers", 1000)
	v.SetDefault("render.max_call_stack", 1024)

	v.SetDefault("console.max_entries", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		// The defaults are valid by construction.
		panic(err)
	}
	return cfg
}

// Load reads the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "failed to decode configuration: "+err.Error())
	}

	// PANES_SERVER_ALLOWED_ORIGINS is a comma separated list.
	var origins []string
	for _, origin := range cfg.Server.AllowedOrigins {
		origins = append(origins, splitList(origin)...)
	}
	cfg.Server.AllowedOrigins = origins
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if result := Validate(&cfg); result.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid configuration:\n"+result.String()).
			WithContext("errors", len(result.Errors))
	}

	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
