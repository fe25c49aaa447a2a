package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
sources:
  - name: wiki
    type: wiki
    enabled: true
`)
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	// File omissions fall back to defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 100, cfg.Server.MaxConcurrent)
	assert.Equal(t, CacheStrategyMemoryOnly, cfg.Cache.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Sources[0].Timeout())
	// Every content type gets a policy even when the file has none.
	for _, ct := range ContentTypes() {
		assert.Contains(t, cfg.Cache.ContentTypes, ct, "missing policy for %s", ct)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("got %v", err)
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := LoadConfig(path, nil)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("got %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RUNBOOKD_PORT", "7777")
	t.Setenv("RUNBOOKD_HOST", "127.0.0.1")
	t.Setenv("RUNBOOKD_LOG_LEVEL", "debug")

	path := writeConfig(t, `
server:
  port: 9090
  host: 10.0.0.1
  log_level: warn
`)
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoadConfigRejectsBadSources(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "sources:\n  - type: wiki\n"},
		{"duplicate name", "sources:\n  - name: a\n    type: wiki\n  - name: a\n    type: file\n"},
		{"invalid type", "sources:\n  - name: a\n    type: carrier-pigeon\n"},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.yaml)
		if _, err := LoadConfig(path, nil); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}

func TestLoadConfigRejectsBadServerAndCache(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 70000\n")
	if _, err := LoadConfig(path, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("out-of-range port: got %v", err)
	}

	path = writeConfig(t, "cache:\n  strategy: quantum\n")
	if _, err := LoadConfig(path, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown strategy: got %v", err)
	}

	path = writeConfig(t, "cache:\n  strategy: redis-only\n")
	if _, err := LoadConfig(path, nil); !errors.Is(err, ErrMissingConfiguration) {
		t.Errorf("redis strategy without url: got %v", err)
	}
}

func TestLoadConfigResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.Mkdir(docs, 0o755); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "config.yaml")
	yaml := `
sources:
  - name: local
    type: file
    enabled: true
    paths: ["docs", "/etc/absolute"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got := cfg.Sources[0].Paths
	if got[0] != docs {
		t.Errorf("relative path not resolved: %q", got[0])
	}
	if got[1] != "/etc/absolute" {
		t.Errorf("absolute path rewritten: %q", got[1])
	}
}

func TestAuthResolveBasic(t *testing.T) {
	t.Setenv("TEST_WIKI_USER", "svc-runbooks")
	t.Setenv("TEST_WIKI_PASS", "dummy")

	a := &AuthConfig{Kind: CredentialBasic, UsernameEnv: "TEST_WIKI_USER", PasswordEnv: "TEST_WIKI_PASS"}
	if err := a.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Username != "svc-runbooks" || a.Password != "dummy" {
		t.Fatalf("resolved %q/%q", a.Username, a.Password)
	}
}

func TestAuthResolveToken(t *testing.T) {
	t.Setenv("TEST_GIT_TOKEN", "dummy-token")

	for _, kind := range []CredentialKind{CredentialBearer, CredentialAPIKey, CredentialPersonalToken} {
		a := &AuthConfig{Kind: kind, TokenEnv: "TEST_GIT_TOKEN"}
		if err := a.Resolve(); err != nil {
			t.Errorf("%s: %v", kind, err)
			continue
		}
		if a.Token != "dummy-token" {
			t.Errorf("%s: token = %q", kind, a.Token)
		}
	}
}

func TestAuthResolveErrors(t *testing.T) {
	a := &AuthConfig{Kind: CredentialBearer, TokenEnv: "RUNBOOKD_TEST_UNSET_VAR"}
	if err := a.Resolve(); !errors.Is(err, ErrMissingConfiguration) {
		t.Errorf("missing env: got %v", err)
	}

	a = &AuthConfig{Kind: "kerberos"}
	if err := a.Resolve(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown kind: got %v", err)
	}

	// No auth configured is fine.
	if err := (*AuthConfig)(nil).Resolve(); err != nil {
		t.Errorf("nil auth: %v", err)
	}
	if err := (&AuthConfig{}).Resolve(); err != nil {
		t.Errorf("empty kind: %v", err)
	}
}

func TestEnabledSources(t *testing.T) {
	cfg := &Config{Sources: []SourceConfig{
		{Name: "on", Enabled: true},
		{Name: "off", Enabled: false},
	}}
	got := cfg.EnabledSources()
	if len(got) != 1 || got[0].Name != "on" {
		t.Fatalf("EnabledSources = %+v", got)
	}
}

func TestServerConfigDurations(t *testing.T) {
	s := ServerConfig{RequestTimeoutMS: 30000, HealthIntervalMS: 60000}
	if s.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v", s.RequestTimeout())
	}
	if s.HealthInterval() != time.Minute {
		t.Errorf("HealthInterval = %v", s.HealthInterval())
	}
}
