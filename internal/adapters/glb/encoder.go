// Package glb serializes scene graphs as binary glTF 2.0 assets.
package glb

import (
	"bytes"
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/pkg/geometry"
)

// MediaType is the IANA media type of a GLB file.
const MediaType = "model/gltf-binary"

const generator = "map3d"

var identity = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Encoder implements ports.SceneEncoder. Images are embedded in the binary
// chunk; the output never references external files.
type Encoder struct{}

// NewEncoder creates a new Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// MediaType returns the GLB media type.
func (e *Encoder) MediaType() string {
	return MediaType
}

// Encode writes root and its subtree as a single-scene GLB. Every scene
// node becomes one glTF node, in depth-first order.
func (e *Encoder) Encode(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("encode: nil scene")
	}

	w := &docWriter{
		doc:       gltf.NewDocument(),
		materials: make(map[string]int),
		images:    make(map[*domain.Image]int),
	}
	w.doc.Asset.Generator = generator

	idx, err := w.node(ctx, root)
	if err != nil {
		return nil, err
	}
	w.doc.Scenes[0].Name = root.Name
	w.doc.Scenes[0].Nodes = []int{idx}

	if len(w.doc.Buffers) > 0 && w.doc.Buffers[0].ByteLength == 0 {
		w.doc.Buffers = nil
	}

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(w.doc); err != nil {
		return nil, fmt.Errorf("encode glb: %w", err)
	}
	return buf.Bytes(), nil
}

type docWriter struct {
	doc       *gltf.Document
	materials map[string]int
	images    map[*domain.Image]int
}

func (w *docWriter) node(ctx context.Context, n *domain.SceneNode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	gn := &gltf.Node{
		Name:        n.Name,
		Matrix:      identity,
		Translation: [3]float64{n.Translation.X, n.Translation.Y, n.Translation.Z},
		Rotation:    n.Rotation,
		Scale:       [3]float64{1, 1, 1},
	}
	if gn.Rotation == ([4]float64{}) {
		gn.Rotation = [4]float64{0, 0, 0, 1}
	}
	if len(n.Extras) > 0 {
		gn.Extras = n.Extras
	}

	prim, err := w.primitive(n)
	if err != nil {
		return 0, fmt.Errorf("node %q: %w", n.Name, err)
	}
	if prim != nil {
		w.doc.Meshes = append(w.doc.Meshes, &gltf.Mesh{Name: n.Name, Primitives: []*gltf.Primitive{prim}})
		gn.Mesh = gltf.Index(len(w.doc.Meshes) - 1)
	}

	idx := len(w.doc.Nodes)
	w.doc.Nodes = append(w.doc.Nodes, gn)

	for _, c := range n.Children {
		ci, err := w.node(ctx, c)
		if err != nil {
			return 0, err
		}
		gn.Children = append(gn.Children, ci)
	}
	return idx, nil
}

func (w *docWriter) primitive(n *domain.SceneNode) (*gltf.Primitive, error) {
	var prim *gltf.Primitive
	switch {
	case n.Extrusion != nil:
		prim = w.extrusion(n.Extrusion)
	case len(n.Line) >= 2:
		prim = w.line(n)
	case n.Plane != nil:
		prim = w.plane(n.Plane)
	}
	if prim == nil {
		return nil, nil
	}
	if n.Material != nil {
		m, err := w.material(n.Material)
		if err != nil {
			return nil, err
		}
		prim.Material = gltf.Index(m)
	}
	return prim, nil
}

// extrusion raises the polygon from z=0 to z=depth with flat caps. Rings
// that cannot be triangulated still get their walls.
func (w *docWriter) extrusion(ex *domain.Extrusion) *gltf.Primitive {
	ring := geometry.OpenRing(ex.Polygon)
	if len(ring) < 3 {
		return nil
	}
	if geometry.SignedArea(ring) < 0 {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	depth := float32(ex.Profile.Depth)
	tris := geometry.Triangulate(ring)

	var (
		pos     [][3]float32
		normals [][3]float32
		indices []uint32
	)
	add := func(p r2.Vec, z float32, n [3]float32) uint32 {
		pos = append(pos, [3]float32{float32(p.X), float32(p.Y), z})
		normals = append(normals, n)
		return uint32(len(pos) - 1)
	}

	// caps
	if len(tris) > 0 {
		top := uint32(len(pos))
		for _, p := range ring {
			add(p, depth, [3]float32{0, 0, 1})
		}
		bottom := uint32(len(pos))
		for _, p := range ring {
			add(p, 0, [3]float32{0, 0, -1})
		}
		for i := 0; i < len(tris); i += 3 {
			a, b, c := uint32(tris[i]), uint32(tris[i+1]), uint32(tris[i+2])
			indices = append(indices, top+a, top+b, top+c)
			indices = append(indices, bottom+a, bottom+c, bottom+b)
		}
	}

	// walls, one quad per edge so normals stay flat
	for i := range ring {
		p, q := ring[i], ring[(i+1)%len(ring)]
		d := r2.Sub(q, p)
		l := r2.Norm(d)
		if l == 0 {
			continue
		}
		n := [3]float32{float32(d.Y / l), float32(-d.X / l), 0}
		a := add(p, 0, n)
		b := add(q, 0, n)
		c := add(q, depth, n)
		e := add(p, depth, n)
		indices = append(indices, a, b, c, a, c, e)
	}

	return &gltf.Primitive{
		Mode: gltf.PrimitiveTriangles,
		Attributes: map[string]int{
			gltf.POSITION: modeler.WritePosition(w.doc, pos),
			gltf.NORMAL:   modeler.WriteNormal(w.doc, normals),
		},
		Indices: gltf.Index(modeler.WriteIndices(w.doc, indices)),
	}
}

func (w *docWriter) line(n *domain.SceneNode) *gltf.Primitive {
	pos := make([][3]float32, len(n.Line))
	for i, v := range n.Line {
		pos[i] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
	}
	return &gltf.Primitive{
		Mode:       gltf.PrimitiveLineStrip,
		Attributes: map[string]int{gltf.POSITION: modeler.WritePosition(w.doc, pos)},
	}
}

// plane is a quad in the node's XZ plane facing +Y.
func (w *docWriter) plane(p *domain.Plane) *gltf.Primitive {
	hw, hd := float32(p.Width/2), float32(p.Depth/2)
	pos := [][3]float32{{-hw, 0, -hd}, {-hw, 0, hd}, {hw, 0, hd}, {hw, 0, -hd}}
	normals := [][3]float32{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}}
	uv := [][2]float32{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	return &gltf.Primitive{
		Mode: gltf.PrimitiveTriangles,
		Attributes: map[string]int{
			gltf.POSITION:   modeler.WritePosition(w.doc, pos),
			gltf.NORMAL:     modeler.WriteNormal(w.doc, normals),
			gltf.TEXCOORD_0: modeler.WriteTextureCoord(w.doc, uv),
		},
		Indices: gltf.Index(modeler.WriteIndices(w.doc, []uint16{0, 1, 2, 0, 2, 3})),
	}
}

func (w *docWriter) material(m *domain.Material) (int, error) {
	key := fmt.Sprintf("%s|%v", m.Name, m.Color)
	if m.Texture != nil {
		key += "|" + m.Texture.Name
	}
	if i, ok := w.materials[key]; ok {
		return i, nil
	}

	color := m.Color
	pbr := &gltf.PBRMetallicRoughness{
		BaseColorFactor: &color,
		MetallicFactor:  gltf.Float(0),
		RoughnessFactor: gltf.Float(1),
	}
	if m.Texture != nil {
		tex, err := w.texture(m.Texture)
		if err != nil {
			return 0, err
		}
		pbr.BaseColorTexture = &gltf.TextureInfo{Index: tex}
	}

	w.doc.Materials = append(w.doc.Materials, &gltf.Material{
		Name:                 m.Name,
		PBRMetallicRoughness: pbr,
	})
	i := len(w.doc.Materials) - 1
	w.materials[key] = i
	return i, nil
}

func (w *docWriter) texture(img *domain.Image) (int, error) {
	if i, ok := w.images[img]; ok {
		return i, nil
	}
	if len(img.Data) == 0 {
		return 0, fmt.Errorf("image %q has no data", img.Name)
	}
	src, err := modeler.WriteImage(w.doc, img.Name, img.MimeType, bytes.NewReader(img.Data))
	if err != nil {
		return 0, fmt.Errorf("embed image %q: %w", img.Name, err)
	}
	w.doc.Textures = append(w.doc.Textures, &gltf.Texture{Source: gltf.Index(src)})
	i := len(w.doc.Textures) - 1
	w.images[img] = i
	return i, nil
}
