// Package geometry holds planar polygon helpers used to turn building
// footprints into renderable triangle meshes.
package geometry

import (
	"github.com/AzyAli/map3d/internal/core/domain"
	"gonum.org/v1/gonum/spatial/r2"
)

const eps = 1e-12

// OpenRing converts a closed polygon into an open vertex ring: the closing
// point and consecutive duplicates are dropped.
func OpenRing(points []domain.LocalPoint) []r2.Vec {
	ring := make([]r2.Vec, 0, len(points))
	for _, p := range points {
		v := r2.Vec{X: p.X, Y: p.Y}
		if n := len(ring); n > 0 && ring[n-1] == v {
			continue
		}
		ring = append(ring, v)
	}
	for len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

// SignedArea returns the shoelace area; positive for counter-clockwise rings.
func SignedArea(ring []r2.Vec) float64 {
	var a float64
	for i := range ring {
		j := (i + 1) % len(ring)
		a += r2.Cross(ring[i], ring[j])
	}
	return a / 2
}

// Triangulate ear-clips a simple polygon and returns vertex indices into
// ring, three per triangle, each wound counter-clockwise. Degenerate rings
// (collinear or fewer than three vertices) yield no triangles.
func Triangulate(ring []r2.Vec) []int {
	n := len(ring)
	if n < 3 {
		return nil
	}
	area := SignedArea(ring)
	if area > -eps && area < eps {
		return nil
	}

	idx := make([]int, n)
	for i := range idx {
		if area > 0 {
			idx[i] = i
		} else {
			idx[i] = n - 1 - i
		}
	}

	tris := make([]int, 0, 3*(n-2))
	for len(idx) > 3 {
		clipped := false
		for i := range idx {
			a := idx[(i+len(idx)-1)%len(idx)]
			b := idx[i]
			c := idx[(i+1)%len(idx)]
			if !isEar(ring, idx, a, b, c) {
				continue
			}
			tris = append(tris, a, b, c)
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// Self-intersecting input; keep what was clipped so far.
			return tris
		}
	}
	if cross(ring[idx[0]], ring[idx[1]], ring[idx[2]]) > eps {
		tris = append(tris, idx[0], idx[1], idx[2])
	}
	return tris
}

func isEar(ring []r2.Vec, idx []int, a, b, c int) bool {
	pa, pb, pc := ring[a], ring[b], ring[c]
	if cross(pa, pb, pc) <= eps {
		return false
	}
	for _, k := range idx {
		if k == a || k == b || k == c {
			continue
		}
		if inTriangle(ring[k], pa, pb, pc) {
			return false
		}
	}
	return true
}

// cross is the z component of (b-a) x (c-b).
func cross(a, b, c r2.Vec) float64 {
	return r2.Cross(r2.Sub(b, a), r2.Sub(c, b))
}

func inTriangle(p, a, b, c r2.Vec) bool {
	d1 := r2.Cross(r2.Sub(b, a), r2.Sub(p, a))
	d2 := r2.Cross(r2.Sub(c, b), r2.Sub(p, b))
	d3 := r2.Cross(r2.Sub(a, c), r2.Sub(p, c))
	return d1 >= -eps && d2 >= -eps && d3 >= -eps
}
