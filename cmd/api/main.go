package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/AzyAli/map3d/internal/adapters/fleet"
	"github.com/AzyAli/map3d/internal/adapters/glb"
	"github.com/AzyAli/map3d/internal/adapters/http"
	natsadapter "github.com/AzyAli/map3d/internal/adapters/nats"
	"github.com/AzyAli/map3d/internal/adapters/overpass"
	"github.com/AzyAli/map3d/internal/adapters/postgres"
	"github.com/AzyAli/map3d/internal/adapters/valkey"
	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/core/usecases"
	"github.com/AzyAli/map3d/internal/pkg/config"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
	"github.com/AzyAli/map3d/internal/pkg/logging"
	"github.com/AzyAli/map3d/internal/pkg/telemetry"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load("map3d-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database (area selections survive restarts when enabled)
	var (
		db    *postgres.DB
		areas ports.AreaRepository
	)
	if cfg.Database.Enabled {
		db, err = postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportStats(ctx, 15*time.Second)
		areas = postgres.NewAreaRepo(db)
	}

	// Cache
	var roadCache ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		roadCache = cache
	}

	// NATS
	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
	}

	// Ground texture
	var ground *domain.Image
	if cfg.Scene.GroundTexture != "" {
		ground, err = glb.LoadImage(cfg.Scene.GroundTexture)
		if err != nil {
			log.Fatalf("ground texture: %v", err)
		}
	}

	// Use cases
	projector := geospatial.NewProjector(cfg.Scene.Scale)
	roads := overpass.New(cfg.Overpass.URL, time.Duration(cfg.Overpass.Timeout)*time.Second)
	scenes := usecases.NewSceneService(
		areas,
		usecases.NewBuildingService(projector, cfg.Scene.Workers),
		usecases.NewRoadService(roads, roadCache, projector, cfg.Scene.RoadElevation, cfg.Overpass.CacheTTL),
		usecases.NewSceneBuilder(ground),
		projector,
		glb.NewEncoder(),
		fleet.New(cfg.Fleet.APIBase, cfg.Fleet.Token, nil),
		events,
	)
	defer scenes.Close()

	deps := &http.Dependencies{
		Scenes: scenes,
		NATS:   natsConn,
		DB:     db,
		Cache:  cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		AppName:      "map3d API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Disposition, X-Artifact-ID",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
