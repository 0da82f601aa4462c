package domain

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Footprint is a building's ground plan plus its OSM tags.
type Footprint struct {
	ID     string            `json:"id,omitempty"`
	Points []GeoPoint        `json:"geometry"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// ExtrusionProfile describes how a footprint polygon is raised into a volume.
type ExtrusionProfile struct {
	Depth float64 `json:"depth"`
	Bevel bool    `json:"bevel"`
	Steps int     `json:"steps"`
}

// BuildingMesh is a closed local-plane polygon ready for extrusion.
// The first and last polygon points are always identical.
type BuildingMesh struct {
	FootprintID string            `json:"footprint_id,omitempty"`
	Polygon     []LocalPoint      `json:"polygon"`
	Profile     ExtrusionProfile  `json:"profile"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// RoadElement is a way returned by the road query.
type RoadElement struct {
	ID       int64             `json:"id"`
	Type     string            `json:"type,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Geometry []GeoPoint        `json:"geometry,omitempty"`
}

// RoadPolyline is a projected road lifted slightly above the ground plane.
type RoadPolyline struct {
	RoadID int64    `json:"road_id"`
	Points []r3.Vec `json:"points"`
}

// Area is a user selection: two bounding corners plus the buildings inside.
type Area struct {
	Corners    [2]GeoPoint `json:"corners"`
	Footprints []Footprint `json:"footprints"`
	SpaceID    string      `json:"space_id,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

// Reference returns the area's local-plane origin.
func (a Area) Reference() GeoPoint {
	return Midpoint(a.Corners[0], a.Corners[1])
}

// Bounds returns the area's bounding box.
func (a Area) Bounds() Bounds {
	return BoundsOf(a.Corners[0], a.Corners[1])
}

// Key identifies the area by its corners. Road responses are matched to
// selections by this key.
func (a Area) Key() string {
	b := a.Bounds()
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// SinkKind selects where an exported artifact goes.
type SinkKind int

const (
	SinkLocal SinkKind = iota
	SinkRemote
)

func (k SinkKind) String() string {
	switch k {
	case SinkLocal:
		return "local"
	case SinkRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ParseSinkKind maps the wire names used by clients ("glb", "fleet" and the
// canonical "local", "remote") to a SinkKind.
func ParseSinkKind(s string) (SinkKind, error) {
	switch s {
	case "", "local", "glb":
		return SinkLocal, nil
	case "remote", "fleet":
		return SinkRemote, nil
	default:
		return SinkLocal, fmt.Errorf("unknown sink %q", s)
	}
}

// ExportRequest is a single export intent.
type ExportRequest struct {
	Sink    SinkKind `json:"sink"`
	SpaceID string   `json:"space_id,omitempty"`
}

// ExportState is the export pipeline's state.
type ExportState int32

const (
	ExportIdle ExportState = iota
	ExportExporting
	ExportSucceeded
	ExportFailed
)

func (s ExportState) String() string {
	switch s {
	case ExportIdle:
		return "idle"
	case ExportExporting:
		return "exporting"
	case ExportSucceeded:
		return "succeeded"
	case ExportFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExportArtifact is an encoded scene. It is handed to exactly one sink.
type ExportArtifact struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	MediaType string    `json:"media_type"`
	Filename  string    `json:"filename"`
	NodeCount int       `json:"node_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Size returns the artifact length in bytes.
func (a *ExportArtifact) Size() int {
	return len(a.Data)
}

// ExportEvent is published after every export attempt.
type ExportEvent struct {
	SessionID  string    `json:"session_id"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Sink       string    `json:"sink"`
	State      string    `json:"state"`
	Bytes      int       `json:"bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// RoadsLoadedEvent is published when road geometry lands for an area.
type RoadsLoadedEvent struct {
	SessionID string    `json:"session_id"`
	AreaKey   string    `json:"area_key"`
	Roads     int       `json:"roads"`
	At        time.Time `json:"at"`
}
