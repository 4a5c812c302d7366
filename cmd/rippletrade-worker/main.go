package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rippletrade/internal/config"
	"rippletrade/internal/db"
	"rippletrade/internal/room"
	"rippletrade/internal/scenario"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
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

	catalog, err := scenario.Builtin()
	if err != nil {
		logger.Error("load builtin scenarios", "err", err)
		os.Exit(1)
	}
	// The janitor only closes rooms: no grants, no subscribers.
	rooms := room.NewRegistry(db.NewStore(pool), catalog, nil, nil, logger)

	sweep := func() error {
		n, err := rooms.CloseIdleRooms(ctx, time.Now().Add(-cfg.RoomIdleTimeout))
		if err != nil {
			return err
		}
		logger.Info("room sweep complete", "closed", n)
		return nil
	}

	if cfg.RunOnce {
		if err := sweep(); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.Every)
	defer ticker.Stop()

	logger.Info("worker started", "every", cfg.Every.String(), "room_idle_timeout", cfg.RoomIdleTimeout.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := sweep(); err != nil {
				logger.Error("sweep failed", "err", err)
			}
		}
	}
}
