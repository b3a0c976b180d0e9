/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides at runtime; the authoring
// service token lives in the OS keychain, never in the file.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int             `yaml:"config_version"`
	General       GeneralConfig   `yaml:"general"`
	Authoring     AuthoringConfig `yaml:"authoring"`
	Editor        EditorConfig    `yaml:"editor"`
	Backend       BackendConfig   `yaml:"backend"`
	Logging       LoggingConfig   `yaml:"logging"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	Theme          string `yaml:"theme"` // "system" | "light" | "dark"
}

// AuthoringConfig locates the external authoring service the attach command talks to.
type AuthoringConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// EditorConfig tunes editing sessions.
type EditorConfig struct {
	EvidenceIntervalMs int `yaml:"evidence_interval_ms"`
	InitialScanDelayMs int `yaml:"initial_scan_delay_ms"`
	UndoMaxBytes       int `yaml:"undo_max_bytes"`
	UndoMaxPerPassage  int `yaml:"undo_max_per_passage"`
}

// BackendConfig configures the Postgres story repository server.
type BackendConfig struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	BaseURL     string `yaml:"base_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{Theme: "system"},
		Authoring:     AuthoringConfig{URL: "ws://localhost:8787/storylens", TimeoutMs: 5000},
		Editor: EditorConfig{
			EvidenceIntervalMs: 500,
			InitialScanDelayMs: 200,
			UndoMaxBytes:       4 << 20,
			UndoMaxPerPassage:  100,
		},
		Backend: BackendConfig{Addr: ":8080", BaseURL: "http://localhost:8080"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile       = "SLS_CONFIG"
	EnvTheme            = "SLS_THEME"
	EnvTelemetryOptIn   = "SLS_TELEMETRY_OPT_IN"
	EnvAuthoringURL     = "SLS_AUTHORING_URL"
	EnvAuthoringTimeout = "SLS_AUTHORING_TIMEOUT_MS"
	EnvEvidenceInterval = "SLS_EVIDENCE_INTERVAL_MS"
	EnvBackendAddr      = "SLS_BACKEND_ADDR"
	EnvBackendURL       = "SLS_BACKEND_URL"
	EnvDatabaseURL      = "SLS_PG_DSN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "SLS_LOG_LEVEL"
	EnvLogFormat = "SLS_LOG_FORMAT"
	EnvLogSource = "SLS_LOG_SOURCE"
	EnvLogFile   = "SLS_LOG_FILE"
)

// ConfigPath returns the per-user config file path. SLS_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "StoryLens")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "StoryLens")
	default:
		base = filepath.Join(os.Getenv("HOME"), ".config", "storylens")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// The authoring token is loaded from the keyring and returned separately.
func Load() (AppConfig, string, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), "", err
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return cfg, "", err
	}
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// LoadFrom is Load without the keyring lookup, reading a specific file.
// A missing file is not an error; a malformed one is.
func LoadFrom(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the user config YAML and persists the token into the OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := SaveTo(path, cfg); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

// SaveTo writes cfg as YAML to path.
func SaveTo(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.General.Theme); v != "" {
		dst.General.Theme = strings.ToLower(v)
	}
	// booleans: copy directly from the file so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if v := strings.TrimSpace(src.Authoring.URL); v != "" {
		dst.Authoring.URL = v
	}
	setPositive(&dst.Authoring.TimeoutMs, src.Authoring.TimeoutMs)
	setPositive(&dst.Editor.EvidenceIntervalMs, src.Editor.EvidenceIntervalMs)
	setPositive(&dst.Editor.InitialScanDelayMs, src.Editor.InitialScanDelayMs)
	setPositive(&dst.Editor.UndoMaxBytes, src.Editor.UndoMaxBytes)
	setPositive(&dst.Editor.UndoMaxPerPassage, src.Editor.UndoMaxPerPassage)
	if v := strings.TrimSpace(src.Backend.Addr); v != "" {
		dst.Backend.Addr = v
	}
	if v := strings.TrimSpace(src.Backend.DatabaseURL); v != "" {
		dst.Backend.DatabaseURL = v
	}
	if v := strings.TrimSpace(src.Backend.BaseURL); v != "" {
		dst.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = truthy(v)
		}
	}
	str(EnvTheme, &cfg.General.Theme)
	flag(EnvTelemetryOptIn, &cfg.General.TelemetryOptIn)
	str(EnvAuthoringURL, &cfg.Authoring.URL)
	num(EnvAuthoringTimeout, &cfg.Authoring.TimeoutMs)
	num(EnvEvidenceInterval, &cfg.Editor.EvidenceIntervalMs)
	str(EnvBackendAddr, &cfg.Backend.Addr)
	str(EnvBackendURL, &cfg.Backend.BaseURL)
	str(EnvDatabaseURL, &cfg.Backend.DatabaseURL)
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	flag(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File)
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

var overrides = map[string]string{
	"general.theme":               EnvTheme,
	"general.telemetry_opt_in":    EnvTelemetryOptIn,
	"authoring.url":               EnvAuthoringURL,
	"authoring.timeout_ms":        EnvAuthoringTimeout,
	"editor.evidence_interval_ms": EnvEvidenceInterval,
	"backend.addr":                EnvBackendAddr,
	"backend.base_url":            EnvBackendURL,
	"backend.database_url":        EnvDatabaseURL,
	"logging.level":               EnvLogLevel,
	"logging.format":              EnvLogFormat,
	"logging.source":              EnvLogSource,
	"logging.file":                EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrides[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout returns the authoring request timeout.
func (a AuthoringConfig) Timeout() time.Duration {
	if a.TimeoutMs <= 0 {
		return time.Duration(Defaults().Authoring.TimeoutMs) * time.Millisecond
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// EvidenceInterval is the throttle interval for evidence rescans.
func (e EditorConfig) EvidenceInterval() time.Duration {
	return time.Duration(e.EvidenceIntervalMs) * time.Millisecond
}

// InitialScanDelay is the delay before the first evidence scan of a session.
func (e EditorConfig) InitialScanDelay() time.Duration {
	return time.Duration(e.InitialScanDelayMs) * time.Millisecond
}
