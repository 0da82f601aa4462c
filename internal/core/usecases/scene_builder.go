package usecases

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// Names of the fixed scene groups.
const (
	GroupBuildings = "buildings"
	GroupRoads     = "roads"
	NodeGround     = "ground"
)

// Colors used by the viewer.
const (
	BuildingColor = "#9da0a3"
	RoadColor     = "#34f516"
	GroundColor   = "#d8d5cc"
)

// overlayTags are surfaced on a building's info overlay.
var overlayTags = []string{"name", "building", TagHeight, TagLevels, "amenity", "denomination"}

// SceneBuilder assembles scene graphs from built meshes and polylines.
type SceneBuilder struct {
	ground *domain.Image
}

// NewSceneBuilder creates a SceneBuilder. ground, when set, textures a
// ground plane under the area.
func NewSceneBuilder(ground *domain.Image) *SceneBuilder {
	return &SceneBuilder{ground: ground}
}

// Compose returns a new scene root holding the buildings and roads groups.
// extent is the area's size in the local plane and sizes the ground plane.
func (b *SceneBuilder) Compose(meshes []domain.BuildingMesh, roads []domain.RoadPolyline, extent domain.LocalPoint) *domain.SceneNode {
	root := domain.NewGroup("scene")

	if b.ground != nil {
		root.Add(&domain.SceneNode{
			Name:  NodeGround,
			Kind:  domain.NodePlane,
			Plane: &domain.Plane{Width: math.Abs(extent.X), Depth: math.Abs(extent.Y)},
			Material: &domain.Material{
				Name:    "ground",
				Color:   mustColor(GroundColor),
				Texture: b.ground,
			},
		})
	}

	buildings := domain.NewGroup(GroupBuildings)
	for i, m := range meshes {
		buildings.Add(BuildingNode(i, m))
	}
	root.Add(buildings)

	roadGroup := domain.NewGroup(GroupRoads)
	for _, r := range roads {
		roadGroup.Add(RoadNode(r))
	}
	root.Add(roadGroup)

	return root
}

// BuildingNode returns a mesh node for m with its info overlay attached.
// The extrusion lives in the node's XY plane; the node is rotated so the
// extrusion axis points up.
func BuildingNode(i int, m domain.BuildingMesh) *domain.SceneNode {
	name := m.FootprintID
	if name == "" {
		name = strconv.Itoa(i)
	}
	n := &domain.SceneNode{
		Name:     "building/" + name,
		Kind:     domain.NodeMesh,
		Rotation: rotationX(-math.Pi / 2),
		Extrusion: &domain.Extrusion{
			Polygon: m.Polygon,
			Profile: m.Profile,
		},
		Material: &domain.Material{Name: "building", Color: mustColor(BuildingColor)},
		Extras:   maps.Clone(m.Tags),
	}

	info := make(map[string]string)
	for _, k := range overlayTags {
		if v, ok := m.Tags[k]; ok && v != "" {
			info[k] = v
		}
	}
	info["depth"] = strconv.FormatFloat(m.Profile.Depth, 'f', -1, 64)
	n.Add(&domain.SceneNode{
		Name:        "info/" + name,
		Kind:        domain.NodeOverlay,
		Translation: overlayAnchor(m),
		Extras:      info,
	})
	return n
}

// RoadNode returns a line node for a projected road.
func RoadNode(r domain.RoadPolyline) *domain.SceneNode {
	return &domain.SceneNode{
		Name:     fmt.Sprintf("road/%d", r.RoadID),
		Kind:     domain.NodeLine,
		Line:     r.Points,
		Material: &domain.Material{Name: "road", Color: mustColor(RoadColor)},
	}
}

// overlayAnchor places the info panel just above the roof, at the
// polygon's vertex centroid, in the building's rotated frame.
func overlayAnchor(m domain.BuildingMesh) (v r3.Vec) {
	poly := m.Polygon
	if len(poly) > 1 {
		poly = poly[:len(poly)-1]
	}
	for _, p := range poly {
		v.X += p.X
		v.Y += p.Y
	}
	if len(poly) > 0 {
		v.X /= float64(len(poly))
		v.Y /= float64(len(poly))
	}
	v.Z = m.Profile.Depth + 0.5
	return v
}

// rotationX returns the unit quaternion for a rotation of angle radians
// about the X axis.
func rotationX(angle float64) [4]float64 {
	s, c := math.Sincos(angle / 2)
	return [4]float64{s, 0, 0, c}
}

// ParseColor converts "#rrggbb" (sRGB) to a linear RGBA factor.
func ParseColor(hex string) ([4]float64, error) {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 {
		return [4]float64{}, fmt.Errorf("color %q: want #rrggbb", hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return [4]float64{}, fmt.Errorf("color %q: %w", hex, err)
	}
	return [4]float64{
		srgbToLinear(float64(v>>16&0xff) / 255),
		srgbToLinear(float64(v>>8&0xff) / 255),
		srgbToLinear(float64(v&0xff) / 255),
		1,
	}, nil
}

func mustColor(hex string) [4]float64 {
	c, err := ParseColor(hex)
	if err != nil {
		panic(err)
	}
	return c
}

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}
