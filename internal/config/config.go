package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Addr            string        `env:"RIPPLETRADE_API_ADDR" envDefault:":8080"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	SupabaseURL     string        `env:"SUPABASE_URL"`
	SupabaseAnonKey string        `env:"SUPABASE_ANON_KEY"`
	JWTSecret       string        `env:"RIPPLETRADE_JWT_SECRET"`
	JWTAudience     string        `env:"RIPPLETRADE_JWT_AUDIENCE" envDefault:"authenticated"`
	RoomGrantSecret string        `env:"RIPPLETRADE_ROOM_GRANT_SECRET"`
	RoomGrantTTL    time.Duration `env:"RIPPLETRADE_ROOM_GRANT_TTL" envDefault:"24h"`
	ScenarioDir     string        `env:"RIPPLETRADE_SCENARIO_DIR"`
	RunIdleTimeout  time.Duration `env:"RIPPLETRADE_RUN_IDLE_TIMEOUT" envDefault:"2h"`
	EvictEvery      time.Duration `env:"RIPPLETRADE_EVICT_EVERY" envDefault:"5m"`
}

type WorkerConfig struct {
	DatabaseURL     string        `env:"DATABASE_URL"`
	RoomIdleTimeout time.Duration `env:"RIPPLETRADE_ROOM_IDLE_TIMEOUT" envDefault:"6h"`
	Every           time.Duration `env:"RIPPLETRADE_WORKER_EVERY" envDefault:"1m"`
	RunOnce         bool          `env:"RIPPLETRADE_WORKER_RUN_ONCE"`
}

type CLIConfig struct {
	APIBaseURL string `env:"RT_API_BASE_URL" envDefault:"http://localhost:8080"`
	Home       string `env:"RT_HOME"`
}

const GrantIssuer = "rippletrade"

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.SupabaseAnonKey = strings.TrimSpace(cfg.SupabaseAnonKey)

	if cfg.JWTSecret == "" && (cfg.SupabaseURL == "" || cfg.SupabaseAnonKey == "") {
		return cfg, fmt.Errorf("RIPPLETRADE_JWT_SECRET or SUPABASE_URL and SUPABASE_ANON_KEY are required")
	}
	if cfg.RoomGrantSecret == "" {
		return cfg, fmt.Errorf("RIPPLETRADE_ROOM_GRANT_SECRET is required")
	}
	if cfg.RunIdleTimeout <= 0 || cfg.EvictEvery <= 0 {
		return cfg, fmt.Errorf("run idle timeout and evict interval must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Every <= 0 || cfg.RoomIdleTimeout <= 0 {
		return cfg, fmt.Errorf("worker interval and room idle timeout must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Home = filepath.Join(home, ".rippletrade")
	}
	return cfg, nil
}
