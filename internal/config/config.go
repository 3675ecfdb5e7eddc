// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package config loads launcher configuration from defaults, a YAML file,
// EMBER_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/emberlaunch/ember/internal/xdg"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated
// by a double underscore: EMBER_AUTH__CLIENT_ID sets auth.client_id.
const EnvPrefix = "EMBER_"

// FileName is the config file looked up in the XDG config directory.
const FileName = "ember.yaml"

// Config is the complete launcher configuration.
type Config struct {
	DataDir   string          `koanf:"data_dir"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Launch    LaunchConfig    `koanf:"launch"`
	Redaction RedactionConfig `koanf:"redaction"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// LogConfig controls the launcher's own log output.
type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	// File additionally receives log records when set. Relative paths are
	// resolved against the XDG state directory.
	File string `koanf:"file"`
}

// AuthConfig controls the identity provider and token lifecycle.
type AuthConfig struct {
	ClientID       string        `koanf:"client_id"`
	Tenant         string        `koanf:"tenant" validate:"required"`
	SafetyWindow   time.Duration `koanf:"safety_window" validate:"gte=0"`
	RefreshTimeout time.Duration `koanf:"refresh_timeout" validate:"gt=0"`
	RefreshRetries uint64        `koanf:"refresh_retries" validate:"lte=10"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	Backend string `koanf:"backend" validate:"oneof=auto keychain libsecret file memory"`
}

// MemoryConfig is the default JVM heap configuration in MiB.
type MemoryConfig struct {
	Min int `koanf:"min" validate:"gte=0"`
	Max int `koanf:"max" validate:"gtefield=Min"`
}

// LaunchConfig holds launch defaults applied to every instance.
type LaunchConfig struct {
	StopGrace time.Duration `koanf:"stop_grace" validate:"gt=0"`
	Java      string        `koanf:"java"`
	Memory    MemoryConfig  `koanf:"memory"`
	JVMArgs   []string      `koanf:"jvm_args"`
}

// RedactionConfig tunes the output redaction pipeline.
type RedactionConfig struct {
	Placeholder string        `koanf:"placeholder" validate:"required"`
	Grace       time.Duration `koanf:"grace" validate:"gte=0"`
	LineWindow  int           `koanf:"line_window" validate:"gt=0"`
	HardWindow  int           `koanf:"hard_window" validate:"gtefield=LineWindow"`
	SecretEnv   []string      `koanf:"secret_env"`
}

// MetricsConfig controls the optional metrics endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "text", Level: "info"},
		Auth: AuthConfig{
			Tenant:         "consumers",
			SafetyWindow:   60 * time.Second,
			RefreshTimeout: 15 * time.Second,
			RefreshRetries: 3,
		},
		Secrets: SecretsConfig{Backend: "auto"},
		Launch: LaunchConfig{
			StopGrace: 10 * time.Second,
			Memory:    MemoryConfig{Min: 512, Max: 4096},
		},
		Redaction: RedactionConfig{
			Placeholder: "[REDACTED]",
			Grace:       10 * time.Minute,
			LineWindow:  4 << 10,
			HardWindow:  64 << 10,
			SecretEnv:   []string{"*TOKEN*", "*SECRET*", "*PASSWORD*", "*_KEY"},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return oops.Code("INVALID_CONFIG").Wrap(err)
	}
	return nil
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"data-dir":        "data_dir",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"log-file":        "log.file",
	"secrets-backend": "secrets.backend",
	"metrics-addr":    "metrics.addr",
	"client-id":       "auth.client_id",
	"stop-grace":      "launch.stop_grace",
}

// Load builds the configuration. path may be empty, in which case the file
// in the XDG config directory is used if it exists. flags may be nil; only
// flags the user explicitly set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		dir, err := xdg.ConfigDir()
		if err == nil {
			path = filepath.Join(dir, FileName)
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("INVALID_CONFIG").With("path", path).Wrap(err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("INVALID_CONFIG").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("INVALID_CONFIG").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("INVALID_CONFIG").Wrap(err)
	}

	if cfg.DataDir == "" {
		dir, err := xdg.DataDir()
		if err != nil {
			return nil, oops.Code("INVALID_CONFIG").Wrap(err)
		}
		cfg.DataDir = dir
	}
	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		dir, err := xdg.StateDir()
		if err != nil {
			return nil, oops.Code("INVALID_CONFIG").Wrap(err)
		}
		cfg.Log.File = filepath.Join(dir, cfg.Log.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Layout returns the launcher directory layout rooted at DataDir.
func (c *Config) Layout() xdg.Layout {
	return xdg.Layout{Root: c.DataDir}
}
