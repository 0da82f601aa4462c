package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
	"github.com/AzyAli/map3d/internal/pkg/metrics"
)

// DefaultRoadElevation lifts road lines above the buildings' base plane.
const DefaultRoadElevation = 0.1

// RoadService fetches road ways and projects them into polylines.
type RoadService struct {
	fetcher   ports.RoadFetcher
	cache     ports.CacheService
	projector geospatial.Projector
	elevation float64
	cacheTTL  int
}

// NewRoadService creates a new RoadService. cache may be nil.
func NewRoadService(
	fetcher ports.RoadFetcher,
	cache ports.CacheService,
	projector geospatial.Projector,
	elevation float64,
	cacheTTLSeconds int,
) *RoadService {
	if elevation <= 0 {
		elevation = DefaultRoadElevation
	}
	return &RoadService{
		fetcher:   fetcher,
		cache:     cache,
		projector: projector,
		elevation: elevation,
		cacheTTL:  cacheTTLSeconds,
	}
}

// Fetch returns the road ways inside bounds, reading through the cache.
func (s *RoadService) Fetch(ctx context.Context, bounds domain.Bounds) ([]domain.RoadElement, error) {
	cacheKey := fmt.Sprintf("roads:bbox:%.6f:%.6f:%.6f:%.6f", bounds.South, bounds.West, bounds.North, bounds.East)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var roads []domain.RoadElement
			if err := json.Unmarshal(data, &roads); err == nil {
				metrics.CacheHits.WithLabelValues("roads").Inc()
				return roads, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("roads").Inc()
	}

	roads, err := s.fetcher.FetchRoads(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("fetch roads: %w", err)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(roads); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}

	return roads, nil
}

// Build projects a road's geometry relative to ref. Absent (null) points
// are dropped; roads left with fewer than two points are skipped.
func (s *RoadService) Build(road domain.RoadElement, ref domain.GeoPoint) (domain.RoadPolyline, bool) {
	points := make([]r3.Vec, 0, len(road.Geometry))
	for _, p := range road.Geometry {
		if p.IsZero() {
			continue
		}
		v := s.projector.Project(p, ref)
		points = append(points, r3.Vec{X: v.X, Y: s.elevation, Z: -v.Y})
	}
	if len(points) < 2 {
		return domain.RoadPolyline{}, false
	}
	return domain.RoadPolyline{RoadID: road.ID, Points: points}, true
}

// BuildAll builds every usable road in input order.
func (s *RoadService) BuildAll(roads []domain.RoadElement, ref domain.GeoPoint) []domain.RoadPolyline {
	lines := make([]domain.RoadPolyline, 0, len(roads))
	for _, r := range roads {
		line, ok := s.Build(r, ref)
		if !ok {
			metrics.RoadsSkipped.Inc()
			slog.Debug("road skipped", "road", r.ID, "points", len(r.Geometry))
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
