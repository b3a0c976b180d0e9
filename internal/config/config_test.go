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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func useConfigFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigFile, p)
	return p
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	useConfigFile(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(Defaults(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if tok != "" {
		t.Fatalf("token = %q, want empty", tok)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	useConfigFile(t)
	want := Defaults()
	want.General.Theme = "dark"
	want.Authoring.URL = "wss://author.example/ws"
	want.Editor.EvidenceIntervalMs = 750
	want.Backend.DatabaseURL = "postgres://u@localhost/sls"
	if err := Save(want, "secret-token"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if tok != "secret-token" {
		t.Fatalf("token = %q", tok)
	}
	if err := ForgetToken(); err != nil {
		t.Fatalf("ForgetToken: %v", err)
	}
	if _, err := Token(); err != ErrNoToken {
		t.Fatalf("Token() after forget err = %v, want ErrNoToken", err)
	}
}

func TestMalformedFileIsAnError(t *testing.T) {
	p := useConfigFile(t)
	if err := os.WriteFile(p, []byte("general: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	useConfigFile(t)
	t.Setenv(EnvAuthoringURL, "ws://override:1/x")
	t.Setenv(EnvTelemetryOptIn, "yes")
	t.Setenv(EnvEvidenceInterval, "900")
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "/tmp/sls.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Authoring.URL != "ws://override:1/x" || !cfg.General.TelemetryOptIn {
		t.Fatalf("general/authoring overrides not applied: %#v", cfg)
	}
	if cfg.Editor.EvidenceInterval() != 900*time.Millisecond {
		t.Fatalf("EvidenceInterval = %v", cfg.Editor.EvidenceInterval())
	}
	if cfg.Logging.Level != "error" || !cfg.Logging.Source || cfg.Logging.File != "/tmp/sls.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
	if env, ok := EnvOverrideFor("authoring.url"); !ok || env != EnvAuthoringURL {
		t.Fatalf("EnvOverrideFor(authoring.url) = %q, %v", env, ok)
	}
	if _, ok := EnvOverrideFor("backend.addr"); ok {
		t.Fatalf("backend.addr reported as overridden")
	}
}

func TestMergeKeepsDefaultsForZeroValues(t *testing.T) {
	dst := Defaults()
	src := AppConfig{Logging: LoggingConfig{Level: " Debug ", Format: "JSON", Source: true}}
	mergeInto(&dst, &src)
	if dst.Editor != Defaults().Editor || dst.Authoring != Defaults().Authoring {
		t.Fatalf("zero values clobbered defaults: %#v", dst)
	}
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestTimeoutFallback(t *testing.T) {
	if got := (AuthoringConfig{}).Timeout(); got != 5*time.Second {
		t.Fatalf("Timeout() = %v, want 5s", got)
	}
}
