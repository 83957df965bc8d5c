// Package config loads server settings from an optional .env file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	Addr     string
	LogLevel string

	Issuer              string
	JWKSURL             string
	RequiredScope       string
	InsecureSkipVerify  bool
	JWKSRefreshInterval time.Duration
	JWKSWarmupTimeout   time.Duration
	JWKSUnknownKIDGap   time.Duration

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration

	StoreDriver string
	SQLiteDSN   string
	SQLitePath  string // overrides SQLiteDSN with a file database

	EnableDebugReset bool

	TraceExporter string
	ServiceName   string
}

const defaultIssuer = "https://localhost:8443/oauth2/openid/playwright-demo"

// Load reads configuration. args are the command-line arguments without the
// program name. A missing .env file is not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	e := env{errs: &errs}

	cfg := &Config{
		Addr:                e.str("ADDR", ""),
		LogLevel:            e.str("LOG_LEVEL", "info"),
		Issuer:              e.str("OIDC_ISSUER", defaultIssuer),
		JWKSURL:             e.str("OIDC_JWKS_URL", ""),
		RequiredScope:       e.str("OIDC_REQUIRED_SCOPE", "todo_app"),
		InsecureSkipVerify:  e.boolean("OIDC_INSECURE_SKIP_VERIFY", false),
		JWKSRefreshInterval: e.duration("JWKS_REFRESH_INTERVAL", time.Hour),
		JWKSWarmupTimeout:   e.duration("JWKS_WARMUP_TIMEOUT", 10*time.Second),
		JWKSUnknownKIDGap:   e.duration("JWKS_UNKNOWN_KID_INTERVAL", time.Minute),
		AllowedOrigins:      splitList(e.str("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRPS:        e.float("RATE_LIMIT_RPS", 0),
		RateLimitBurst:      e.integer("RATE_LIMIT_BURST", 20),
		RequestTimeout:      e.duration("REQUEST_TIMEOUT", 15*time.Second),
		StoreDriver:         e.str("STORE_DRIVER", StoreMemory),
		SQLiteDSN:           e.str("SQLITE_DSN", ":memory:"),
		SQLitePath:          e.str("SQLITE_PATH", ""),
		EnableDebugReset:    e.boolean("ENABLE_DEBUG_RESET", false),
		TraceExporter:       e.str("TRACE_EXPORTER", "none"),
		ServiceName:         e.str("SERVICE_NAME", "todo-fixture-api"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":" + e.str("PORT", "4000")
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	flags := pflag.NewFlagSet("todo-fixture-api", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "expected token issuer")
	flags.StringVar(&cfg.JWKSURL, "jwks-url", cfg.JWKSURL, "JWK Set URL (default <issuer>/public_key.jwk)")
	flags.StringVar(&cfg.RequiredScope, "scope", cfg.RequiredScope, "scope required on every token")
	flags.BoolVar(&cfg.InsecureSkipVerify, "insecure-skip-verify", cfg.InsecureSkipVerify, "accept self-signed issuer certificates")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "task store: memory or sqlite")
	flags.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database file (overrides SQLITE_DSN)")
	flags.BoolVar(&cfg.EnableDebugReset, "debug-reset", cfg.EnableDebugReset, "mount POST /debug/reset")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if cfg.JWKSURL == "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.Issuer, "/") + "/public_key.jwk"
	}
	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unknown store %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// env reads typed variables and collects parse errors instead of failing on
// the first one.
type env struct {
	errs *[]error
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e env) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
