package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://voidmod@localhost/voidmod")
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppAddr != ":8080" || cfg.ReconcilerInterval != time.Minute || !cfg.ReconcilerEnabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FounderBootstrapPseudo != "VoidFounder" || cfg.WorkbookTimezone != "Europe/Paris" {
		t.Fatalf("unexpected bootstrap defaults: %+v", cfg)
	}
	if cfg.WorkerMetricsAddr != ":9091" || !cfg.MigrateOnStart {
		t.Fatalf("unexpected worker defaults: %+v", cfg)
	}
	if cfg.RateLimitGlobal != 300 || cfg.RateLimitLogin != 20 {
		t.Fatalf("unexpected rate limits: %d/%d", cfg.RateLimitGlobal, cfg.RateLimitLogin)
	}
	if cfg.IsProduction() || cfg.DiscordConfigured() {
		t.Fatalf("development config without discord expected")
	}
	if err := cfg.RequireJWTSecret(); err == nil {
		t.Fatalf("expected missing jwt secret error")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://x")
	t.Setenv("APP_ENV", "production")
	t.Setenv("RECONCILER_INTERVAL", "5m")
	t.Setenv("RECONCILER_ENABLED", "false")
	t.Setenv("CORS_ORIGIN", " https://a.example , ,https://b.example")
	t.Setenv("DISCORD_BOT_TOKEN", "bot")
	t.Setenv("DISCORD_GUILD_ID", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() || cfg.ReconcilerEnabled || cfg.ReconcilerInterval != 5*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	origins := cfg.CORSOrigins()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("origins = %v", origins)
	}
	if !cfg.DiscordConfigured() {
		t.Fatalf("discord should be configured")
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://x")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("prefixes: %v", err)
	}
	if len(prefixes) != 2 || prefixes[0].String() != "10.0.0.0/8" || prefixes[1].String() != "192.168.1.7/32" {
		t.Fatalf("prefixes = %v", prefixes)
	}

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed trusted proxy")
	}
}
