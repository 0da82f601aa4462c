package domain

import (
	"maps"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// NodeKind classifies scene nodes.
type NodeKind int

const (
	NodeGroup NodeKind = iota
	NodeMesh
	NodeLine
	NodePlane
	// NodeOverlay marks on-screen UI elements (info panels, labels).
	// Overlays never appear in an exported asset.
	NodeOverlay
)

func (k NodeKind) String() string {
	switch k {
	case NodeGroup:
		return "group"
	case NodeMesh:
		return "mesh"
	case NodeLine:
		return "line"
	case NodePlane:
		return "plane"
	case NodeOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Image is an embedded texture image.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// Material is a flat PBR material. Color is linear RGBA.
type Material struct {
	Name    string
	Color   [4]float64
	Texture *Image
}

// Extrusion is a closed polygon in the node's XY plane raised along +Z.
type Extrusion struct {
	Polygon []LocalPoint
	Profile ExtrusionProfile
}

// Plane is a flat rectangle centered on the node origin in its XZ plane.
type Plane struct {
	Width float64
	Depth float64
}

// SceneNode is one node of the scene graph. A node carries at most one
// geometry: Extrusion for meshes, Line for polylines, Plane for ground.
type SceneNode struct {
	Name      string
	Kind      NodeKind
	Transient bool

	Translation r3.Vec
	// Rotation is a unit quaternion (x, y, z, w). The zero value means no
	// rotation.
	Rotation [4]float64

	Extrusion *Extrusion
	Line      []r3.Vec
	Plane     *Plane
	Material  *Material
	Extras    map[string]string

	Children []*SceneNode
	parent   *SceneNode
}

// NewGroup returns an empty group node.
func NewGroup(name string) *SceneNode {
	return &SceneNode{Name: name, Kind: NodeGroup}
}

// Parent returns the node's parent, or nil for a root.
func (n *SceneNode) Parent() *SceneNode {
	return n.parent
}

// Add appends children, detaching them from any previous parent first.
func (n *SceneNode) Add(children ...*SceneNode) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.parent != nil {
			c.parent.Remove(c)
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
}

// Remove detaches child and reports whether it was a direct child of n.
func (n *SceneNode) Remove(child *SceneNode) bool {
	i := slices.Index(n.Children, child)
	if i < 0 {
		return false
	}
	n.Children = slices.Delete(n.Children, i, i+1)
	child.parent = nil
	return true
}

// Walk visits n and its descendants depth-first in child order. When fn
// returns false the node's children are skipped.
func (n *SceneNode) Walk(fn func(*SceneNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *SceneNode) Count() int {
	total := 0
	n.Walk(func(*SceneNode) bool {
		total++
		return true
	})
	return total
}

// ExcludedFromExport reports whether the node exists only for interactive
// feedback.
func (n *SceneNode) ExcludedFromExport() bool {
	return n.Transient || n.Kind == NodeOverlay
}

// Clone returns a fully independent copy of the subtree rooted at n. The
// copy has no parent.
func (n *SceneNode) Clone() *SceneNode {
	c := &SceneNode{
		Name:        n.Name,
		Kind:        n.Kind,
		Transient:   n.Transient,
		Translation: n.Translation,
		Rotation:    n.Rotation,
		Line:        slices.Clone(n.Line),
		Extras:      maps.Clone(n.Extras),
	}
	if n.Extrusion != nil {
		c.Extrusion = &Extrusion{
			Polygon: slices.Clone(n.Extrusion.Polygon),
			Profile: n.Extrusion.Profile,
		}
	}
	if n.Plane != nil {
		p := *n.Plane
		c.Plane = &p
	}
	if n.Material != nil {
		m := *n.Material
		if n.Material.Texture != nil {
			img := *n.Material.Texture
			img.Data = slices.Clone(n.Material.Texture.Data)
			m.Texture = &img
		}
		c.Material = &m
	}
	for _, child := range n.Children {
		c.Add(child.Clone())
	}
	return c
}
