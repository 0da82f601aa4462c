package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	natsadapter "github.com/AzyAli/map3d/internal/adapters/nats"
	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/pkg/config"
	"github.com/AzyAli/map3d/internal/pkg/logging"
)

// exportlog writes every scene export attempt to the structured log, so
// uploads to the asset store leave an audit trail independent of the API.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("map3d-exportlog")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	err = sub.SubscribeExportEvents(ctx, func(ctx context.Context, ev *domain.ExportEvent) error {
		level := slog.LevelInfo
		if ev.State == domain.ExportFailed.String() {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "scene export",
			"session", ev.SessionID,
			"sink", ev.Sink,
			"state", ev.State,
			"artifact", ev.ArtifactID,
			"bytes", ev.Bytes,
			"error", ev.Error,
			"at", ev.At)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	slog.Info("export log started", "nats", cfg.NATS.URL)
	<-ctx.Done()
	slog.Info("export log stopped")
}
