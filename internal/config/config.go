package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	ServerEnv string // "development" or "production"

	// Supabase datastore and object store. DatabaseURL is derived from
	// SupabaseURL/SupabaseServiceRoleKey unless overridden directly.
	SupabaseURL            string
	SupabaseServiceRoleKey string
	DatabaseURL            string
	DatabaseMaxConn        int
	DatabaseMinConn        int

	// ServerSecret derives the AES-256-GCM key used to open server-readable
	// vault envelopes and HMAC keys. Hex-encoded, 32 bytes.
	ServerSecret string

	// Email provider (Resend-compatible batch/send HTTP API).
	ResendAPIKey    string
	ResendFromEmail string

	// ViewerBaseURL is trimmed of a trailing slash and has "/?entry=<id>"
	// appended to build a beneficiary viewer link.
	ViewerBaseURL string

	// Push provider. Optional: push is disabled when unset.
	FirebaseServiceAccountJSON string

	// Cycle tuning.
	RunBudget            time.Duration
	ProfilePageSize      int
	SupervisorMaxRetries int

	DryRun bool
}

// Load reads configuration from environment variables. It returns an error
// if any variable is set but cannot be parsed, or if a required value is
// missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerEnv: envStr("SERVER_ENV", "production"),

		SupabaseURL:            envStr("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: envStr("SUPABASE_SERVICE_ROLE_KEY", ""),
		DatabaseURL:            envStr("DATABASE_URL", ""),
		DatabaseMaxConn:        p.int("DATABASE_MAX_CONNS", 10),
		DatabaseMinConn:        p.int("DATABASE_MIN_CONNS", 2),

		ServerSecret: envStr("SERVER_SECRET", ""),

		ResendAPIKey:    envStr("RESEND_API_KEY", ""),
		ResendFromEmail: envStr("RESEND_FROM_EMAIL", ""),

		ViewerBaseURL: envStr("VIEWER_BASE_URL", ""),

		FirebaseServiceAccountJSON: envStr("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		RunBudget:            p.duration("RUN_BUDGET", 5*time.Hour+30*time.Minute),
		ProfilePageSize:      p.int("PROFILE_PAGE_SIZE", 200),
		SupervisorMaxRetries: p.int("SUPERVISOR_MAX_RETRIES", 3),

		DryRun: p.bool("DRY_RUN", false),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if cfg.DatabaseURL == "" && cfg.SupabaseURL != "" {
		cfg.DatabaseURL = derivePostgresDSN(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

// PushConfigured returns true when a Firebase service-account credential is
// present, indicating push notifications should be attempted. Absent
// credential is a configuration choice, not an error: push is simply
// disabled for the run.
func (c *Config) PushConfigured() bool {
	return c.FirebaseServiceAccountJSON != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.SupabaseURL == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_URL is required"))
	}
	if c.SupabaseServiceRoleKey == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL could not be derived from SUPABASE_URL; set it explicitly"))
	}

	if c.ServerSecret == "" {
		errs = append(errs, fmt.Errorf("SERVER_SECRET is required"))
	} else {
		b, err := hex.DecodeString(c.ServerSecret)
		if err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("SERVER_SECRET must be exactly 64 hex characters (32 bytes)"))
		}
	}

	if c.ResendAPIKey == "" {
		errs = append(errs, fmt.Errorf("RESEND_API_KEY is required"))
	}
	if c.ResendFromEmail == "" {
		errs = append(errs, fmt.Errorf("RESEND_FROM_EMAIL is required"))
	} else if _, err := mail.ParseAddress(c.ResendFromEmail); err != nil {
		errs = append(errs, fmt.Errorf("RESEND_FROM_EMAIL is not a valid email address: %q", c.ResendFromEmail))
	}

	if c.ViewerBaseURL == "" {
		errs = append(errs, fmt.Errorf("VIEWER_BASE_URL is required"))
	}

	if c.DatabaseMaxConn < 1 {
		errs = append(errs, fmt.Errorf("DATABASE_MAX_CONNS must be at least 1"))
	}
	if c.DatabaseMinConn < 0 {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS must not be negative"))
	}
	if c.DatabaseMinConn > c.DatabaseMaxConn {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS (%d) must not exceed DATABASE_MAX_CONNS (%d)", c.DatabaseMinConn, c.DatabaseMaxConn))
	}

	if c.RunBudget < time.Minute {
		errs = append(errs, fmt.Errorf("RUN_BUDGET must be at least 1m"))
	}
	if c.ProfilePageSize < 1 {
		errs = append(errs, fmt.Errorf("PROFILE_PAGE_SIZE must be at least 1"))
	}
	if c.SupervisorMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("SUPERVISOR_MAX_RETRIES must be at least 1"))
	}

	return errors.Join(errs...)
}

// derivePostgresDSN builds a libpq connection string for a Supabase project's
// pooled Postgres connection from the project URL and service-role key, for
// operators who don't want to set DATABASE_URL separately. Most deployments
// set DATABASE_URL directly; this is a convenience fallback, not the primary
// path, so it only covers the project-ref-subdomain shape Supabase issues.
func derivePostgresDSN(supabaseURL, serviceRoleKey string) string {
	ref := projectRef(supabaseURL)
	if ref == "" {
		return ""
	}
	return fmt.Sprintf("postgres://postgres.%s:%s@aws-0-us-east-1.pooler.supabase.com:5432/postgres?sslmode=require", ref, serviceRoleKey)
}

func projectRef(supabaseURL string) string {
	const prefix = "https://"
	const suffix = ".supabase.co"
	if len(supabaseURL) <= len(prefix)+len(suffix) {
		return ""
	}
	if supabaseURL[:len(prefix)] != prefix {
		return ""
	}
	trimmed := supabaseURL[len(prefix):]
	if len(trimmed) <= len(suffix) || trimmed[len(trimmed)-len(suffix):] != suffix {
		return ""
	}
	return trimmed[:len(trimmed)-len(suffix)]
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\" or \"30m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
