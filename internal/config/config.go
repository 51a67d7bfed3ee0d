// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the console and the worker.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	JWTSecret  string `envconfig:"JWT_SECRET"`
	CORSOrigin string `envconfig:"CORS_ORIGIN"`

	// TrustedProxies are the IPs or CIDR ranges allowed to set forwarded client addresses.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	DiscordBotToken    string `envconfig:"DISCORD_BOT_TOKEN"`
	DiscordGuildID     string `envconfig:"DISCORD_GUILD_ID"`
	DiscordAPIBase     string `envconfig:"DISCORD_API_BASE" default:"https://discord.com/api/v10"`
	DiscordClientID    string `envconfig:"DISCORD_CLIENT_ID"`
	DiscordRedirectURI string `envconfig:"DISCORD_REDIRECT_URI"`

	FounderBootstrapPseudo string `envconfig:"FOUNDER_BOOTSTRAP_PSEUDO" default:"VoidFounder"`
	FounderBootstrapKey    string `envconfig:"FOUNDER_BOOTSTRAP_KEY"`

	ReconcilerEnabled  bool          `envconfig:"RECONCILER_ENABLED" default:"true"`
	ReconcilerInterval time.Duration `envconfig:"RECONCILER_INTERVAL" default:"60s"`
	WorkerMetricsAddr  string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	MigrateOnStart bool `envconfig:"MIGRATE_ON_START" default:"true"`

	ConnectionWorkbook string `envconfig:"CONNECTION_WORKBOOK" default:"data/connection_workbook.csv"`
	WorkbookTimezone   string `envconfig:"WORKBOOK_TIMEZONE" default:"Europe/Paris"`

	RateLimitGlobal int `envconfig:"RATE_LIMIT_GLOBAL" default:"300"`
	RateLimitLogin  int `envconfig:"RATE_LIMIT_LOGIN" default:"20"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.PGDSN == "" {
		return nil, errors.New("database dsn must be provided")
	}
	if _, err := cfg.TrustedProxyPrefixes(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequireJWTSecret fails when the token signing secret is missing. Only processes
// that issue or check tokens call it.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("jwt secret must be provided")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// CORSOrigins splits CORS_ORIGIN into its trimmed, non-empty entries.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSOrigin, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// DiscordConfigured reports whether the member provider can be reached.
func (c *Config) DiscordConfigured() bool {
	return c.DiscordBotToken != "" && c.DiscordGuildID != ""
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. A bare address is a single host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
