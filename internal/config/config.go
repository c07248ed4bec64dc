// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package config loads Argos's runtime settings and the monitor document
// it supervises. Runtime settings are layered with koanf the way the
// teacher layers its own config (struct defaults, then an optional file,
// then environment overrides); the monitor document itself is decoded
// directly with goccy/go-json into configdoc.RawDocument, since it is a
// typed document rather than free-form settings.
//
// Hot-reload is intentionally absent: the spec names configuration
// reload a non-goal, so unlike the teacher's WatchConfigFile this
// package has no file watcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/JorgeSuarezV/argos/internal/configdoc"
)

// ConfigPathEnvVar overrides the runtime settings file path, mirroring
// the teacher's CONFIG_PATH convention.
const ConfigPathEnvVar = "ARGOS_CONFIG_PATH"

// envPrefix is the prefix koanf strips from environment variables before
// mapping them onto RuntimeSettings fields (spec: "ARGOS_-prefixed
// environment variables ... override top-level runtime settings").
const envPrefix = "ARGOS_"

// RuntimeSettings holds the top-level settings Argos needs at startup,
// as opposed to the monitor document itself (which describes what to
// probe, not how the process behaves).
type RuntimeSettings struct {
	// ShutdownTimeoutMs bounds how long the supervisor waits for each
	// coordinator to stop during graceful shutdown (spec §5, default
	// 5000ms).
	ShutdownTimeoutMs int `koanf:"shutdown_timeout_ms"`

	// LogLevel is one of the levels accepted by internal/logging.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "console" or "json", per internal/logging.
	LogFormat string `koanf:"log_format"`
}

// ShutdownTimeout returns the configured shutdown timeout as a
// time.Duration, for feeding straight into supervisor.TreeConfig.
func (r RuntimeSettings) ShutdownTimeout() time.Duration {
	return time.Duration(r.ShutdownTimeoutMs) * time.Millisecond
}

func defaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		ShutdownTimeoutMs: 5000,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// LoadRuntimeSettings layers struct defaults, an optional settings file,
// and ARGOS_-prefixed environment variables, in that precedence order
// (later layers win), the same way the teacher's LoadWithKoanf layers
// defaults, file, and env.
//
// settingsPath may be empty, in which case only defaults and environment
// overrides apply. If settingsPath is empty and ConfigPathEnvVar is set,
// the env var's value is used instead.
func LoadRuntimeSettings(settingsPath string) (RuntimeSettings, error) {
	if settingsPath == "" {
		settingsPath = os.Getenv(ConfigPathEnvVar)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultRuntimeSettings(), "koanf"), nil); err != nil {
		return RuntimeSettings{}, fmt.Errorf("config: loading defaults: %w", err)
	}

	if settingsPath != "" {
		if _, err := os.Stat(settingsPath); err == nil {
			if err := k.Load(file.Provider(settingsPath), koanfjson.Parser()); err != nil {
				return RuntimeSettings{}, fmt.Errorf("config: loading settings file %q: %w", settingsPath, err)
			}
		} else if !os.IsNotExist(err) {
			return RuntimeSettings{}, fmt.Errorf("config: stat settings file %q: %w", settingsPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return RuntimeSettings{}, fmt.Errorf("config: loading environment overrides: %w", err)
	}

	var settings RuntimeSettings
	if err := k.Unmarshal("", &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("config: unmarshaling runtime settings: %w", err)
	}
	return settings, nil
}

// envTransformFunc maps ARGOS_SHUTDOWN_TIMEOUT_MS -> shutdown_timeout_ms
// by stripping the prefix and lowercasing the rest; underscores are kept,
// so every setting is a flat top-level key.
func envTransformFunc(key string) string {
	trimmed := strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(trimmed)
}

// LoadDocument reads and decodes the JSON monitor document at path into
// a configdoc.RawDocument, using goccy/go-json rather than koanf: the
// document is a typed, nested structure (monitors and rules), not a
// flat settings bag, so a direct decode is simpler than round-tripping
// it through koanf's generic map representation.
func LoadDocument(path string) (configdoc.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return configdoc.RawDocument{}, fmt.Errorf("config: reading monitor document %q: %w", path, err)
	}

	var doc configdoc.RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return configdoc.RawDocument{}, fmt.Errorf("config: decoding monitor document %q: %w", path, err)
	}
	return doc, nil
}
