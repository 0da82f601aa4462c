package usecases

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
	"github.com/AzyAli/map3d/internal/pkg/metrics"
)

// Recognized OSM tags and height rules.
const (
	TagHeight = "height"
	TagLevels = "building:levels"

	MetersPerLevel        = 2.2
	DefaultBuildingHeight = 10.0
)

// leadingNumber matches the numeric prefix of a tag value ("12.5 m" -> 12.5).
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// BuildingService turns footprints into extrudable polygons.
type BuildingService struct {
	projector geospatial.Projector
	workers   int
}

// NewBuildingService creates a new BuildingService. workers bounds the
// number of footprints built concurrently by BuildAll.
func NewBuildingService(projector geospatial.Projector, workers int) *BuildingService {
	if workers <= 0 {
		workers = 1
	}
	return &BuildingService{projector: projector, workers: workers}
}

// Build projects a footprint around ref, closes its ring and infers the
// extrusion depth. Footprints with fewer than three points are skipped.
func (s *BuildingService) Build(f domain.Footprint, ref domain.GeoPoint) (domain.BuildingMesh, bool) {
	if len(f.Points) < 3 {
		return domain.BuildingMesh{}, false
	}

	poly := s.projector.ProjectAll(f.Points, ref)
	if !poly[0].Equal(poly[len(poly)-1]) {
		poly = append(poly, poly[0])
	}

	return domain.BuildingMesh{
		FootprintID: f.ID,
		Polygon:     poly,
		Profile:     ExtrusionFor(f.Tags),
		Tags:        f.Tags,
	}, true
}

// BuildAll builds every footprint concurrently and returns the meshes in
// input order, without the skipped ones.
func (s *BuildingService) BuildAll(ctx context.Context, footprints []domain.Footprint, ref domain.GeoPoint) ([]domain.BuildingMesh, error) {
	type result struct {
		mesh domain.BuildingMesh
		ok   bool
	}
	results := make([]result, len(footprints))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range footprints {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, ok := s.Build(footprints[i], ref)
			results[i] = result{mesh: m, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meshes := make([]domain.BuildingMesh, 0, len(footprints))
	for i, r := range results {
		if !r.ok {
			metrics.BuildingsSkipped.Inc()
			slog.Debug("footprint skipped", "footprint", footprints[i].ID, "points", len(footprints[i].Points))
			continue
		}
		meshes = append(meshes, r.mesh)
	}
	return meshes, nil
}

// ExtrusionFor returns the flat-topped extrusion profile for a tag set.
func ExtrusionFor(tags map[string]string) domain.ExtrusionProfile {
	return domain.ExtrusionProfile{
		Depth: InferHeight(tags),
		Bevel: false,
		Steps: 1,
	}
}

// InferHeight derives a building height from its tags. building:levels
// takes precedence over an explicit height when both are usable.
func InferHeight(tags map[string]string) float64 {
	if levels, ok := parseTagNumber(tags[TagLevels]); ok {
		return levels * MetersPerLevel
	}
	if height, ok := parseTagNumber(tags[TagHeight]); ok {
		return height
	}
	return DefaultBuildingHeight
}

// parseTagNumber reads the leading number of a tag value. Only finite,
// positive values are usable as a height.
func parseTagNumber(v string) (float64, bool) {
	m := leadingNumber.FindString(strings.TrimSpace(v))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}
