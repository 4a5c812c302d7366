package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rippletrade/internal/api"
	"rippletrade/internal/auth"
	"rippletrade/internal/config"
	"rippletrade/internal/db"
	"rippletrade/internal/game"
	"rippletrade/internal/room"
	"rippletrade/internal/scenario"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	catalog, err := scenario.Builtin()
	if err != nil {
		logger.Error("load builtin scenarios", "err", err)
		os.Exit(1)
	}
	if cfg.ScenarioDir != "" {
		if err := catalog.LoadDir(cfg.ScenarioDir); err != nil {
			logger.Error("load scenario dir", "err", err, "dir", cfg.ScenarioDir)
			os.Exit(1)
		}
	}

	var (
		runStore  game.Store = game.NewMemoryStore()
		roomStore room.Store = room.NewMemoryStore()
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}
		store := db.NewStore(pool)
		runStore, roomStore = store, store
	} else {
		logger.Warn("DATABASE_URL not set, results are kept in memory")
	}

	var verifier auth.Verifier
	var accounts api.Accounts
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		supabase := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		verifier, accounts = supabase, supabase
	}
	if cfg.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience)
		if err != nil {
			logger.Error("jwt verifier", "err", err)
			os.Exit(1)
		}
		verifier = jwtVerifier
	}

	grants, err := room.NewGrantIssuer(cfg.RoomGrantSecret, config.GrantIssuer, cfg.RoomGrantTTL)
	if err != nil {
		logger.Error("room grants", "err", err)
		os.Exit(1)
	}
	hub := room.NewHub(logger)
	rooms := room.NewRegistry(roomStore, catalog, grants, hub, logger)
	gameSvc := game.NewService(catalog, runStore, logger, game.WithRooms(rooms))

	go func() {
		ticker := time.NewTicker(cfg.EvictEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := gameSvc.EvictIdle(time.Now().Add(-cfg.RunIdleTimeout)); n > 0 {
					logger.Info("evicted idle runs", "count", n)
				}
			}
		}
	}()

	server := api.New(logger, api.Deps{
		Verifier: verifier,
		Accounts: accounts,
		Game:     gameSvc,
		Rooms:    rooms,
		Hub:      hub,
		Catalog:  catalog,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("rippletrade api listening", "addr", cfg.Addr, "scenarios", len(catalog.List()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
