// Package config loads the service settings from an optional file and
// PACEDHTTP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/internal/taxdoc"
	"github.com/erplink/pacedhttp/internal/validate"
)

// EnvPrefix prefixes every environment override, e.g. PACEDHTTP_PACER_MAX_RETRIES.
const EnvPrefix = "PACEDHTTP"

var ErrInvalid = errors.New("invalid configuration")

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Pacer    pacer.Config
	Throttle ThrottleConfig
	Upstream taxdoc.Config
	Archive  ArchiveConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `json:"host" validate:"required"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
	TLSCertFile     string        `json:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile      string        `json:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json text"`
}

// SlogLevel converts Level for use in handler options.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ThrottleConfig enables the token bucket beneath the pacer.
type ThrottleConfig struct {
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps" validate:"required_if=Enabled true,gte=0"`
	Burst   int     `json:"burst" validate:"required_if=Enabled true,gte=0"`
}

// ArchiveConfig controls where fetched documents are stored.
type ArchiveConfig struct {
	Dir         string `json:"dir"`
	Concurrency int    `json:"concurrency" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	pc := pacer.DefaultConfig()
	tc := taxdoc.DefaultConfig()

	v.SetDefault("server.host", ":8080")
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("pacer.min_interval", pc.MinInterval)
	v.SetDefault("pacer.max_retries", pc.MaxRetries)
	v.SetDefault("pacer.base_delay", pc.BaseDelay)
	v.SetDefault("pacer.backoff_factor", pc.BackoffFactor)
	v.SetDefault("pacer.max_delay", pc.MaxDelay)

	v.SetDefault("throttle.enabled", false)
	v.SetDefault("throttle.rps", 1.0)
	v.SetDefault("throttle.burst", 1)

	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.base_url", tc.BaseURL)
	v.SetDefault("upstream.user_agent", tc.UserAgent)
	v.SetDefault("upstream.timeout", tc.Timeout)

	v.SetDefault("archive.dir", "pdfs")
	v.SetDefault("archive.concurrency", 4)
}

// Load reads configuration with the following priority, highest first:
// PACEDHTTP_ environment variables, the file at path when path is not
// empty, then built-in defaults. The file type follows its extension
// (toml, yaml, json).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var durErr error
	dur := func(key string) time.Duration {
		d, err := seconds(v, key)
		durErr = errors.Join(durErr, err)
		return d
	}

	cfg := Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			WriteTimeout:    dur("server.write_timeout"),
			ShutdownTimeout: dur("server.shutdown_timeout"),
			TLSCertFile:     v.GetString("server.tls_cert_file"),
			TLSKeyFile:      v.GetString("server.tls_key_file"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Pacer: pacer.Config{
			MinInterval:   dur("pacer.min_interval"),
			MaxRetries:    v.GetInt("pacer.max_retries"),
			BaseDelay:     dur("pacer.base_delay"),
			BackoffFactor: v.GetFloat64("pacer.backoff_factor"),
			MaxDelay:      dur("pacer.max_delay"),
		},
		Throttle: ThrottleConfig{
			Enabled: v.GetBool("throttle.enabled"),
			RPS:     v.GetFloat64("throttle.rps"),
			Burst:   v.GetInt("throttle.burst"),
		},
		Upstream: taxdoc.Config{
			APIKey:    v.GetString("upstream.api_key"),
			BaseURL:   v.GetString("upstream.base_url"),
			UserAgent: v.GetString("upstream.user_agent"),
			Timeout:   dur("upstream.timeout"),
		},
		Archive: ArchiveConfig{
			Dir:         v.GetString("archive.dir"),
			Concurrency: v.GetInt("archive.concurrency"),
		},
	}

	if durErr != nil {
		return nil, durErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// seconds reads a duration setting. Duration strings such as "250ms" are
// parsed as such; bare numbers, from files or the environment, are seconds.
func seconds(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.Get(key)

	switch val := raw.(type) {
	case time.Duration:
		return val, nil
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d, nil
		}
	}

	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is neither a duration nor a number of seconds", ErrInvalid, key, fmt.Sprint(raw))
	}

	return time.Duration(f * float64(time.Second)), nil
}

// validate checks everything but the upstream API key, which only the
// commands that call upstream require.
func (c *Config) validate() error {
	sections := []struct {
		name string
		val  any
	}{
		{"server", c.Server},
		{"log", c.Log},
		{"pacer", c.Pacer},
		{"throttle", c.Throttle},
		{"archive", c.Archive},
	}

	for _, s := range sections {
		if err := validate.Struct(s.val); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, s.name, err)
		}
	}

	return nil
}
