package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg := LoadConfig()

	if cfg.ServerPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.ServerPort)
	}
	if cfg.Challenge.CASRetries != 5 || cfg.Challenge.SweepInterval != time.Minute || cfg.Challenge.SweepAutoStart {
		t.Fatalf("unexpected challenge defaults %+v", cfg.Challenge)
	}
	if cfg.MQ.Backend != "none" || cfg.Storage.Backend != "none" || cfg.Redis.Addr != "" {
		t.Fatalf("optional backends should be disabled by default")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_SSL", "true")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("SWEEP_AUTO_START", "yes")
	t.Setenv("MQ_BACKEND", "RabbitMQ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LEADERBOARD_CACHE_TTL", "not-a-duration")

	cfg := LoadConfig()
	if cfg.ServerPort != 9090 || !cfg.Database.UseSSL {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Challenge.SweepInterval != 15*time.Second || !cfg.Challenge.SweepAutoStart {
		t.Fatalf("unexpected challenge config %+v", cfg.Challenge)
	}
	if cfg.MQ.Backend != "rabbitmq" {
		t.Fatalf("expected lower-cased backend, got %q", cfg.MQ.Backend)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("expected %v, got %v", want, cfg.CORSAllowedOrigins)
	}
	if cfg.Redis.TTL != 30*time.Second {
		t.Fatalf("invalid duration should fall back to default, got %s", cfg.Redis.TTL)
	}
}
