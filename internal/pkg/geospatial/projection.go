package geospatial

import (
	"math"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// metersPerDegree is the length of one degree of latitude (and of longitude
// at the equator) on a spherical earth.
const metersPerDegree = 111320.0

// DefaultScale projects into meters.
const DefaultScale = metersPerDegree

// Project maps p onto the local equirectangular plane anchored at ref.
// Only the reference latitude's cosine compresses longitude; the result is
// accurate over tens of kilometers. Project(ref, ref, s) is exactly (0, 0).
func Project(p, ref domain.GeoPoint, scale float64) domain.LocalPoint {
	return domain.LocalPoint{
		X: (p.Lng - ref.Lng) * scale * math.Cos(toRad(ref.Lat)),
		Y: (p.Lat - ref.Lat) * scale,
	}
}

// Projector binds a scale so buildings and roads share one frame.
type Projector struct {
	Scale float64
}

// NewProjector returns a Projector; a non-positive scale selects DefaultScale.
func NewProjector(scale float64) Projector {
	if scale <= 0 {
		scale = DefaultScale
	}
	return Projector{Scale: scale}
}

// Project projects p relative to ref.
func (pr Projector) Project(p, ref domain.GeoPoint) domain.LocalPoint {
	return Project(p, ref, pr.Scale)
}

// ProjectAll projects a ring of points in order.
func (pr Projector) ProjectAll(points []domain.GeoPoint, ref domain.GeoPoint) []domain.LocalPoint {
	out := make([]domain.LocalPoint, len(points))
	for i, p := range points {
		out[i] = pr.Project(p, ref)
	}
	return out
}
