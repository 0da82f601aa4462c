package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AzyAli/map3d/internal/adapters/fleet"
	"github.com/AzyAli/map3d/internal/adapters/glb"
	"github.com/AzyAli/map3d/internal/adapters/overpass"
	"github.com/AzyAli/map3d/internal/adapters/sqlite"
	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/core/usecases"
	"github.com/AzyAli/map3d/internal/pkg/config"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
	"github.com/AzyAli/map3d/internal/pkg/logging"
)

const session = "scenectl"

var errUsage = errors.New("usage: scenectl [flags] <area.json> [glb|fleet] [spaceId]")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("scenectl", flag.ContinueOnError)
	out := fs.String("o", usecases.LocalFilename, "output file for local exports")
	noCache := fs.Bool("no-cache", false, "bypass the road response cache")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load("map3d-scenectl")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Log.Level, "text"))

	sink := domain.SinkLocal
	if fs.NArg() > 1 {
		if sink, err = domain.ParseSinkKind(fs.Arg(1)); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}

	area, err := readArea(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("area: %w", err)
	}
	if fs.NArg() > 2 {
		area.SpaceID = fs.Arg(2)
	}

	// Road cache
	var cache ports.CacheService
	if !*noCache && cfg.Overpass.CacheTTL > 0 {
		c, err := sqlite.Open(cfg.Overpass.CachePath)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer c.Close()
		if n, err := c.Purge(ctx); err == nil && n > 0 {
			slog.Debug("expired cache entries purged", "count", n)
		}
		cache = c
	}

	var ground *domain.Image
	if cfg.Scene.GroundTexture != "" {
		if ground, err = glb.LoadImage(cfg.Scene.GroundTexture); err != nil {
			return fmt.Errorf("ground texture: %w", err)
		}
	}

	projector := geospatial.NewProjector(cfg.Scene.Scale)
	scenes := usecases.NewSceneService(
		nil,
		usecases.NewBuildingService(projector, cfg.Scene.Workers),
		usecases.NewRoadService(
			overpass.New(cfg.Overpass.URL, time.Duration(cfg.Overpass.Timeout)*time.Second),
			cache, projector, cfg.Scene.RoadElevation, cfg.Overpass.CacheTTL,
		),
		usecases.NewSceneBuilder(ground),
		projector,
		glb.NewEncoder(),
		fleet.New(cfg.Fleet.APIBase, cfg.Fleet.Token, nil),
		nil,
	)
	defer scenes.Close()

	start := time.Now()
	if _, err := scenes.SelectArea(ctx, session, *area); err != nil {
		return fmt.Errorf("build scene: %w", err)
	}
	scenes.Wait()

	summary, err := scenes.Scene(session)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	slog.Info("scene built",
		"buildings", summary.Buildings,
		"roads", summary.Roads,
		"nodes", summary.Nodes,
		"took", time.Since(start).Round(time.Millisecond))

	art, req, err := scenes.RequestExport(ctx, session, domain.ExportRequest{Sink: sink, SpaceID: area.SpaceID})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	switch req.Sink {
	case domain.SinkLocal:
		if err := os.WriteFile(*out, art.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", *out, err)
		}
		fmt.Fprintf(stdout, "OK  %s (%d bytes, %d nodes)\n", *out, art.Size(), art.NodeCount)
	case domain.SinkRemote:
		fmt.Fprintf(stdout, "OK  uploaded %s to space %s (%d bytes)\n", art.ID, req.SpaceID, art.Size())
	}
	return nil
}

func readArea(path string) (*domain.Area, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var area domain.Area
	if err := json.Unmarshal(data, &area); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &area, nil
}
