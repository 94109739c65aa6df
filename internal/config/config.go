// Package config loads server settings from an optional YAML file and WCSC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wcsc/internal/application/auth"
	"wcsc/internal/domain/session"
)

// EnvProduction is the Env value that turns on production checks.
const EnvProduction = "production"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	Fallback FallbackConfig `yaml:"fallback"`
	Email    EmailConfig    `yaml:"email"`
	Policy   PolicyConfig   `yaml:"policy"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CSRFKey         string        `yaml:"csrf_key"`
	SecureCookies   bool          `yaml:"secure_cookies"`
	ToastInterval   time.Duration `yaml:"toast_interval"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ContextIdleTTL  time.Duration `yaml:"context_idle_ttl"`
	SlowRequest     time.Duration `yaml:"slow_request"`
}

// StorageConfig selects the key-value backend. Redis is used when RedisAddr is set.
type StorageConfig struct {
	DBPath        string        `yaml:"db_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	SlowQuery     time.Duration `yaml:"slow_query"`
}

// ProviderConfig points at the hosted identity service. An empty URL disables it.
type ProviderConfig struct {
	URL           string        `yaml:"url"`
	AnonKey       string        `yaml:"anon_key"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeAttempts int           `yaml:"probe_attempts"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// FallbackConfig controls the local fallback directory.
type FallbackConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TokenSecret   string        `yaml:"token_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SeedDemo      bool          `yaml:"seed_demo"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
}

// EmailConfig configures outgoing mail. An empty ResendKey logs messages instead of sending.
type EmailConfig struct {
	ResendKey string `yaml:"resend_key"`
	From      string `yaml:"from"`
	ReplyTo   string `yaml:"reply_to"`
	BaseURL   string `yaml:"base_url"`
}

// PolicyConfig mirrors session.AccessPolicy.
type PolicyConfig struct {
	LoginPath     string   `yaml:"login_path"`
	HomePath      string   `yaml:"home_path"`
	LandingPath   string   `yaml:"landing_path"`
	PostLoginPath string   `yaml:"post_login_path"`
	MemberPages   []string `yaml:"member_pages"`
	AdminPages    []string `yaml:"admin_pages"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	p := session.DefaultAccessPolicy()
	return Config{
		Env: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			ToastInterval:   5 * time.Second,
			RateLimit:       5,
			RateBurst:       20,
			RefreshInterval: time.Minute,
			ContextIdleTTL:  24 * time.Hour,
			SlowRequest:     200 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath:      "wcsc.db",
			RedisPrefix: "wcsc",
			SlowQuery:   50 * time.Millisecond,
		},
		Provider: ProviderConfig{
			Timeout:       10 * time.Second,
			ProbeAttempts: auth.DefaultProbeAttempts,
			ProbeInterval: auth.DefaultProbeInterval,
			ProbeTimeout:  auth.DefaultProbeTimeout,
		},
		Fallback: FallbackConfig{
			Enabled:  true,
			TokenTTL: 12 * time.Hour,
			SeedDemo: true,
		},
		Email: EmailConfig{
			From:    "WCSC <noreply@wcsc.org>",
			ReplyTo: "info@wcsc.org",
			BaseURL: "http://localhost:8080",
		},
		Policy: PolicyConfig{
			LoginPath:     p.LoginPath,
			HomePath:      p.HomePath,
			LandingPath:   p.LandingPath,
			PostLoginPath: p.PostLoginPath,
			MemberPages:   p.MemberPages,
			AdminPages:    p.AdminPages,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
// PRE: none
// POST: Returns a validated Config or an error naming the bad setting
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = envOrDefault("WCSC_ENV", c.Env)

	c.Server.Addr = envOrDefault("WCSC_ADDR", c.Server.Addr)
	c.Server.CSRFKey = envOrDefault("WCSC_CSRF_KEY", c.Server.CSRFKey)
	c.Storage.DBPath = envOrDefault("WCSC_DB_PATH", c.Storage.DBPath)
	c.Storage.RedisAddr = envOrDefault("WCSC_REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPassword = envOrDefault("WCSC_REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisPrefix = envOrDefault("WCSC_REDIS_PREFIX", c.Storage.RedisPrefix)
	c.Provider.URL = envOrDefault("WCSC_PROVIDER_URL", c.Provider.URL)
	c.Provider.AnonKey = envOrDefault("WCSC_PROVIDER_ANON_KEY", c.Provider.AnonKey)
	c.Fallback.TokenSecret = envOrDefault("WCSC_FALLBACK_SECRET", c.Fallback.TokenSecret)
	c.Fallback.AdminEmail = envOrDefault("WCSC_ADMIN_EMAIL", c.Fallback.AdminEmail)
	c.Fallback.AdminPassword = envOrDefault("WCSC_ADMIN_PASSWORD", c.Fallback.AdminPassword)
	c.Email.ResendKey = envOrDefault("WCSC_RESEND_KEY", c.Email.ResendKey)
	c.Email.From = envOrDefault("WCSC_RESEND_FROM", c.Email.From)
	c.Email.ReplyTo = envOrDefault("WCSC_REPLY_TO", c.Email.ReplyTo)
	c.Email.BaseURL = envOrDefault("WCSC_BASE_URL", c.Email.BaseURL)
	c.Log.Level = envOrDefault("WCSC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("WCSC_LOG_FORMAT", c.Log.Format)

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"WCSC_TOAST_INTERVAL", &c.Server.ToastInterval},
		{"WCSC_REFRESH_INTERVAL", &c.Server.RefreshInterval},
		{"WCSC_CONTEXT_IDLE_TTL", &c.Server.ContextIdleTTL},
		{"WCSC_SLOW_QUERY", &c.Storage.SlowQuery},
		{"WCSC_PROVIDER_TIMEOUT", &c.Provider.Timeout},
		{"WCSC_PROBE_INTERVAL", &c.Provider.ProbeInterval},
		{"WCSC_PROBE_TIMEOUT", &c.Provider.ProbeTimeout},
		{"WCSC_SLOW_REQUEST", &c.Server.SlowRequest},
		{"WCSC_FALLBACK_TOKEN_TTL", &c.Fallback.TokenTTL},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err))
				continue
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WCSC_PROBE_ATTEMPTS", &c.Provider.ProbeAttempts},
		{"WCSC_RATE_BURST", &c.Server.RateBurst},
	}
	for _, n := range ints {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, n.key, err))
				continue
			}
			*n.dst = parsed
		}
	}

	if v := os.Getenv("WCSC_RATE_LIMIT"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: WCSC_RATE_LIMIT: %v", ErrInvalid, err))
		} else {
			c.Server.RateLimit = parsed
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"WCSC_SECURE_COOKIES", &c.Server.SecureCookies},
		{"WCSC_FALLBACK_ENABLED", &c.Fallback.Enabled},
		{"WCSC_SEED_DEMO", &c.Fallback.SeedDemo},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, b.key, err))
				continue
			}
			*b.dst = parsed
		}
	}

	if v := os.Getenv("WCSC_MEMBER_PAGES"); v != "" {
		c.Policy.MemberPages = splitList(v)
	}
	if v := os.Getenv("WCSC_ADMIN_PAGES"); v != "" {
		c.Policy.AdminPages = splitList(v)
	}
	return errors.Join(errs...)
}

// Validate checks settings that would otherwise fail at first use.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Addr == "" {
		bad("server.addr is required")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		bad("server.rate_limit and server.rate_burst must be positive")
	}
	if c.Server.ToastInterval <= 0 {
		bad("server.toast_interval must be positive")
	}
	if c.Server.RefreshInterval <= 0 || c.Server.ContextIdleTTL <= 0 {
		bad("server.refresh_interval and server.context_idle_ttl must be positive")
	}
	if c.Provider.URL == "" && !c.Fallback.Enabled {
		bad("no identity provider: set provider.url or enable the fallback")
	}
	if c.Provider.URL != "" && c.Provider.AnonKey == "" {
		bad("provider.anon_key is required with provider.url")
	}
	if c.Provider.ProbeAttempts < 1 {
		bad("provider.probe_attempts must be at least 1")
	}
	if c.Provider.ProbeTimeout < 0 || c.Server.SlowRequest < 0 {
		bad("provider.probe_timeout and server.slow_request must not be negative")
	}
	if c.Storage.RedisAddr == "" && c.Storage.DBPath == "" {
		bad("storage.db_path is required without storage.redis_addr")
	}
	for _, p := range append(append([]string{c.Policy.LoginPath, c.Policy.HomePath, c.Policy.LandingPath, c.Policy.PostLoginPath}, c.Policy.MemberPages...), c.Policy.AdminPages...) {
		if !strings.HasPrefix(p, "/") {
			bad("policy path %q must start with /", p)
		}
	}
	if level := strings.ToLower(c.Log.Level); level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			bad("log.level %q", c.Log.Level)
		}
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format must be text or json")
	}

	if c.IsProduction() {
		if c.Server.CSRFKey == "" {
			bad("server.csrf_key is required in production")
		}
		if c.Fallback.Enabled && c.Fallback.TokenSecret == "" {
			bad("fallback.token_secret is required in production")
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether Env is production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// AccessPolicy returns the configured route policy.
func (c Config) AccessPolicy() session.AccessPolicy {
	return session.AccessPolicy{
		LoginPath:     c.Policy.LoginPath,
		HomePath:      c.Policy.HomePath,
		LandingPath:   c.Policy.LandingPath,
		PostLoginPath: c.Policy.PostLoginPath,
		MemberPages:   c.Policy.MemberPages,
		AdminPages:    c.Policy.AdminPages,
	}
}

// ManagerConfig returns the session manager settings.
func (c Config) ManagerConfig() auth.Config {
	return auth.Config{
		ProbeAttempts: c.Provider.ProbeAttempts,
		ProbeInterval: c.Provider.ProbeInterval,
		ProbeTimeout:  c.Provider.ProbeTimeout,
		Policy:        c.AccessPolicy(),
	}
}

// SlogLevel returns the configured log level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
