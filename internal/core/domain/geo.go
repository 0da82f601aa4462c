package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// GeoPoint represents a geographic coordinate (WGS 84) in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UnmarshalJSON accepts both "lng" and the Overpass-style "lon" key. A JSON
// null leaves p untouched.
func (p *GeoPoint) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	var raw struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Lat == nil {
		return fmt.Errorf("geo point: missing lat")
	}
	p.Lat = *raw.Lat
	switch {
	case raw.Lng != nil:
		p.Lng = *raw.Lng
	case raw.Lon != nil:
		p.Lng = *raw.Lon
	default:
		return fmt.Errorf("geo point: missing lng")
	}
	return nil
}

// IsZero reports whether p is the zero point, which is what an absent
// (null) coordinate decodes to.
func (p GeoPoint) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Midpoint returns the point halfway between two corners. It is the
// reference point that anchors an area's local plane.
func Midpoint(a, b GeoPoint) GeoPoint {
	return GeoPoint{
		Lat: (a.Lat + b.Lat) / 2,
		Lng: (a.Lng + b.Lng) / 2,
	}
}

// LocalPoint is a planar coordinate relative to a reference point.
type LocalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Equal reports whether both coordinates are identical.
func (p LocalPoint) Equal(q LocalPoint) bool {
	return p.X == q.X && p.Y == q.Y
}

// Distance returns the Euclidean distance between two local points.
func (p LocalPoint) Distance(q LocalPoint) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundsOf returns the bounding box spanned by two corners, in any order.
func BoundsOf(a, b GeoPoint) Bounds {
	return Bounds{
		South: math.Min(a.Lat, b.Lat),
		West:  math.Min(a.Lng, b.Lng),
		North: math.Max(a.Lat, b.Lat),
		East:  math.Max(a.Lng, b.Lng),
	}
}
