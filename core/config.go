package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Priority is three-layered:
//  1. Default values (lowest)
//  2. YAML configuration file
//  3. Environment variables (highest)
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Sources   []SourceConfig `yaml:"sources"`
	Cache     CacheConfig    `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Query     QueryConfig    `yaml:"query"`

	// Escalation contact tables keyed by severity. Optional; built-in
	// defaults apply when empty.
	Escalation map[string]EscalationTier `yaml:"escalation,omitempty"`

	// Directory the config file was loaded from, used to resolve
	// relative source paths. Not part of the file format.
	baseDir string
}

// ServerConfig configures the HTTP surface and process-wide budgets.
type ServerConfig struct {
	Port             int    `yaml:"port"`
	Host             string `yaml:"host"`
	LogLevel         string `yaml:"log_level"`
	CacheTTLSeconds  int    `yaml:"cache_ttl_seconds"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	HealthIntervalMS int    `yaml:"health_interval_ms"`
}

// RequestTimeout returns the request-wide budget as a duration.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// HealthInterval returns the health polling interval as a duration.
func (s ServerConfig) HealthInterval() time.Duration {
	return time.Duration(s.HealthIntervalMS) * time.Millisecond
}

// CredentialKind enumerates supported auth schemes for sources.
type CredentialKind string

const (
	CredentialBearer        CredentialKind = "bearer"
	CredentialBasic         CredentialKind = "basic"
	CredentialAPIKey        CredentialKind = "api-key"
	CredentialOAuth2        CredentialKind = "oauth2"
	CredentialPersonalToken CredentialKind = "personal-token"
	CredentialAppToken      CredentialKind = "app-token"
	CredentialCookie        CredentialKind = "cookie"
)

// AuthConfig names the environment variables carrying credentials.
// The file never holds literal secrets; values are resolved at load.
type AuthConfig struct {
	Kind CredentialKind `yaml:"kind"`

	// Environment variable names, resolved by Resolve().
	TokenEnv    string `yaml:"token_env,omitempty"`
	UsernameEnv string `yaml:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	HeaderName  string `yaml:"header_name,omitempty"` // for api-key

	// Resolved values. Populated by Resolve, never serialized.
	Token    string `yaml:"-"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Resolve reads the named environment variables. Missing credentials
// are an error: an adapter with auth configured cannot run without them.
func (a *AuthConfig) Resolve() error {
	if a == nil || a.Kind == "" {
		return nil
	}
	lookup := func(name string) (string, error) {
		if name == "" {
			return "", nil
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("credential env %s not set: %w", name, ErrMissingConfiguration)
		}
		return v, nil
	}

	var err error
	switch a.Kind {
	case CredentialBasic:
		if a.Username, err = lookup(a.UsernameEnv); err != nil {
			return err
		}
		a.Password, err = lookup(a.PasswordEnv)
	case CredentialBearer, CredentialAPIKey, CredentialOAuth2, CredentialPersonalToken, CredentialAppToken, CredentialCookie:
		a.Token, err = lookup(a.TokenEnv)
	default:
		return fmt.Errorf("unknown credential kind %q: %w", a.Kind, ErrInvalidConfiguration)
	}
	return err
}

// SourceConfig describes one documentation source. Name is the primary
// key within a configuration. Priority: lower number = preferred on
// confidence ties (tie-break order used by the registry).
type SourceConfig struct {
	Name             string      `yaml:"name"`
	Type             SourceType  `yaml:"type"`
	BaseURL          string      `yaml:"base_url,omitempty"`
	Paths            []string    `yaml:"paths,omitempty"`
	Auth             *AuthConfig `yaml:"auth,omitempty"`
	RefreshInterval  time.Duration `yaml:"refresh_interval,omitempty"`
	Priority         int         `yaml:"priority"`
	Enabled          bool        `yaml:"enabled"`
	TimeoutMS        int         `yaml:"timeout_ms"`
	MaxRetries       int         `yaml:"max_retries"`
	Categories       []Category  `yaml:"categories,omitempty"`

	// Redis settings for database-type sources.
	RedisURL  string `yaml:"redis_url,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Timeout returns the per-call timeout as a duration.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// CacheStrategy selects which cache tiers are in play.
type CacheStrategy string

const (
	CacheStrategyMemoryOnly CacheStrategy = "memory-only"
	CacheStrategyRedisOnly  CacheStrategy = "redis-only"
	CacheStrategyHybrid     CacheStrategy = "hybrid"
)

// ContentTypePolicy sets TTL and warmup behavior for one content type.
type ContentTypePolicy struct {
	TTLSeconds int  `yaml:"ttl_seconds"`
	Warmup     bool `yaml:"warmup"`
}

// TTL returns the policy TTL as a duration.
func (p ContentTypePolicy) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// MemoryCacheConfig bounds the fast tier.
type MemoryCacheConfig struct {
	MaxKeys int `yaml:"max_keys"`
}

// RedisCacheConfig configures the slow tier.
type RedisCacheConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// CacheConfig configures the two-level cache.
type CacheConfig struct {
	Enabled      bool                                `yaml:"enabled"`
	Strategy     CacheStrategy                       `yaml:"strategy"`
	Memory       MemoryCacheConfig                   `yaml:"memory"`
	Redis        RedisCacheConfig                    `yaml:"redis"`
	ContentTypes map[ContentType]ContentTypePolicy   `yaml:"content_types"`
}

// EmbeddingConfig is honored for config compatibility; the engine only
// consumes the enabled flag and cache size today.
type EmbeddingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// QueryConfig tunes the query processor.
type QueryConfig struct {
	IntentThreshold float64 `yaml:"intent_threshold"`
	MultiIntent     bool    `yaml:"multi_intent"`
	TargetLatencyMS int     `yaml:"target_latency_ms"`
	CacheSize       int     `yaml:"cache_size"`
}

// EscalationContact is one person or rotation in an escalation tier.
type EscalationContact struct {
	Name    string `yaml:"name" json:"name"`
	Role    string `yaml:"role" json:"role"`
	Channel string `yaml:"channel" json:"channel"`
}

// EscalationTier describes who to page for a severity band.
type EscalationTier struct {
	Contacts             []EscalationContact `yaml:"contacts" json:"contacts"`
	Procedure            string              `yaml:"procedure" json:"procedure"`
	ResponseTimeMinutes  int                 `yaml:"response_time_minutes" json:"response_time_minutes"`
	AfterHoursContacts   []EscalationContact `yaml:"after_hours_contacts,omitempty" json:"after_hours_contacts,omitempty"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			Host:             "0.0.0.0",
			LogLevel:         "info",
			CacheTTLSeconds:  300,
			MaxConcurrent:    100,
			RequestTimeoutMS: 30000,
			HealthIntervalMS: 60000,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Strategy: CacheStrategyMemoryOnly,
			Memory:   MemoryCacheConfig{MaxKeys: 10000},
			ContentTypes: map[ContentType]ContentTypePolicy{
				ContentTypeRunbooks:      {TTLSeconds: 600, Warmup: true},
				ContentTypeProcedures:    {TTLSeconds: 600, Warmup: false},
				ContentTypeDecisionTrees: {TTLSeconds: 600, Warmup: true},
				ContentTypeKnowledgeBase: {TTLSeconds: 300, Warmup: false},
				ContentTypeWebResponse:   {TTLSeconds: 120, Warmup: false},
			},
		},
		Query: QueryConfig{
			IntentThreshold: 0.8,
			MultiIntent:     false,
			TargetLatencyMS: 50,
			CacheSize:       1000,
		},
	}
}

// LoadConfig reads the YAML file at path, applies environment
// overrides, resolves credentials and relative paths, and validates.
func LoadConfig(path string, logger Logger) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", filepath.Base(path), ErrMissingConfiguration)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %v: %w", err, ErrInvalidConfiguration)
	}

	abs, err := filepath.Abs(path)
	if err == nil {
		cfg.baseDir = filepath.Dir(abs)
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(logger); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers select environment variables over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RUNBOOKD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RUNBOOKD_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RUNBOOKD_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RUNBOOKD_REDIS_URL"); v != "" {
		c.Cache.Redis.URL = v
	}
}

// finalize resolves credentials and paths, then validates.
func (c *Config) finalize(logger Logger) error {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("source %d has no name: %w", i, ErrInvalidConfiguration)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q: %w", src.Name, ErrInvalidConfiguration)
		}
		seen[src.Name] = true

		if !src.Type.Valid() {
			return fmt.Errorf("source %q has invalid type %q: %w", src.Name, src.Type, ErrInvalidConfiguration)
		}
		if err := src.Auth.Resolve(); err != nil {
			return fmt.Errorf("source %q: %w", src.Name, err)
		}
		for j, p := range src.Paths {
			src.Paths[j] = c.resolvePath(p, logger)
		}
		if src.TimeoutMS <= 0 {
			src.TimeoutMS = 5000
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", c.Server.Port, ErrInvalidConfiguration)
	}
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = 100
	}

	switch c.Cache.Strategy {
	case CacheStrategyMemoryOnly, CacheStrategyRedisOnly, CacheStrategyHybrid:
	case "":
		c.Cache.Strategy = CacheStrategyMemoryOnly
	default:
		return fmt.Errorf("unknown cache strategy %q: %w", c.Cache.Strategy, ErrInvalidConfiguration)
	}
	if (c.Cache.Strategy == CacheStrategyRedisOnly || c.Cache.Strategy == CacheStrategyHybrid) && c.Cache.Redis.URL == "" {
		return fmt.Errorf("cache strategy %s requires redis url: %w", c.Cache.Strategy, ErrMissingConfiguration)
	}

	// Fill in policy defaults for any tag the file omitted.
	defaults := DefaultConfig().Cache.ContentTypes
	if c.Cache.ContentTypes == nil {
		c.Cache.ContentTypes = defaults
	} else {
		for _, ct := range ContentTypes() {
			if _, ok := c.Cache.ContentTypes[ct]; !ok {
				c.Cache.ContentTypes[ct] = defaults[ct]
			}
		}
	}

	if c.Query.IntentThreshold <= 0 || c.Query.IntentThreshold > 1 {
		c.Query.IntentThreshold = 0.8
	}
	if c.Query.TargetLatencyMS <= 0 {
		c.Query.TargetLatencyMS = 50
	}
	if c.Query.CacheSize <= 0 {
		c.Query.CacheSize = 1000
	}

	return nil
}

// resolvePath resolves a relative source path against the config file's
// directory, then its parent, then leaves it as-is with a warning.
func (c *Config) resolvePath(p string, logger Logger) string {
	if filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}

	candidate := filepath.Join(c.baseDir, p)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	parent := filepath.Join(filepath.Dir(c.baseDir), p)
	if _, err := os.Stat(parent); err == nil {
		return parent
	}

	logger.Warn("Could not resolve relative source path", map[string]interface{}{
		"operation": "config_resolve_path",
		"path":      p,
		"tried":     []string{candidate, parent},
	})
	return p
}

// EnabledSources returns the configs of sources marked enabled.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
