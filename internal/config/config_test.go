package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("RIPPLETRADE_JWT_SECRET", "dev-secret-dev-secret")
	t.Setenv("RIPPLETRADE_ROOM_GRANT_SECRET", "room-secret-room-secret")
	t.Setenv("PORT", "9090")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.RunIdleTimeout != 2*time.Hour || cfg.JWTAudience != "authenticated" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadAPIFromEnvRequiresAuth(t *testing.T) {
	t.Setenv("RIPPLETRADE_ROOM_GRANT_SECRET", "room-secret-room-secret")
	t.Setenv("RIPPLETRADE_JWT_SECRET", "")
	t.Setenv("SUPABASE_URL", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error without any auth configuration")
	}
}

func TestLoadAPIFromEnvBadDuration(t *testing.T) {
	t.Setenv("RIPPLETRADE_JWT_SECRET", "dev-secret-dev-secret")
	t.Setenv("RIPPLETRADE_ROOM_GRANT_SECRET", "room-secret-room-secret")
	t.Setenv("RIPPLETRADE_RUN_IDLE_TIMEOUT", "soon")
	_, err := LoadAPIFromEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected DATABASE_URL to be required")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/rt")
	t.Setenv("RIPPLETRADE_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RunOnce || cfg.Every != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("RT_API_BASE_URL", "https://rt.example.com/")
	t.Setenv("RT_HOME", "/tmp/rt-home")
	cfg, err := LoadCLIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://rt.example.com" || cfg.Home != "/tmp/rt-home" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
