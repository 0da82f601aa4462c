package glb_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AzyAli/map3d/internal/adapters/glb"
	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/usecases"
)

func decode(t *testing.T, data []byte) *gltf.Document {
	t.Helper()
	require.True(t, bytes.HasPrefix(data, []byte("glTF")), "binary glTF magic")
	var doc gltf.Document
	require.NoError(t, gltf.NewDecoder(bytes.NewReader(data)).Decode(&doc))
	return &doc
}

func testScene() *domain.SceneNode {
	ground := &domain.Image{Name: "ground", MimeType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nfake")}
	meshes := []domain.BuildingMesh{
		{
			FootprintID: "1",
			Polygon:     []domain.LocalPoint{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}, {X: 0, Y: 5}, {X: 0, Y: 0}},
			Profile:     domain.ExtrusionProfile{Depth: 10, Steps: 1},
			Tags:        map[string]string{"building": "yes"},
		},
		{
			FootprintID: "2",
			// clockwise L shape
			Polygon: []domain.LocalPoint{{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 1, Y: 2}, {X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 0}, {X: 0, Y: 0}},
			Profile: domain.ExtrusionProfile{Depth: 3, Steps: 1},
		},
	}
	roads := []domain.RoadPolyline{{RoadID: 9, Points: []r3.Vec{{X: 0, Y: 0.1, Z: 0}, {X: 5, Y: 0.1, Z: -5}}}}
	root := usecases.NewSceneBuilder(ground).Compose(meshes, roads, domain.LocalPoint{X: 50, Y: 50})
	usecases.Prune(root)
	return root
}

func TestEncoder_Encode(t *testing.T) {
	scene := testScene()
	enc := glb.NewEncoder()

	data, err := enc.Encode(context.Background(), scene)
	require.NoError(t, err)
	assert.Equal(t, "model/gltf-binary", enc.MediaType())

	doc := decode(t, data)
	assert.Len(t, doc.Nodes, scene.Count())
	require.Len(t, doc.Scenes, 1)
	assert.Equal(t, []int{0}, doc.Scenes[0].Nodes)

	// ground, two buildings, one road
	assert.Len(t, doc.Meshes, 4)

	require.Len(t, doc.Images, 1)
	assert.Empty(t, doc.Images[0].URI, "images are embedded")
	assert.NotNil(t, doc.Images[0].BufferView)
	for _, b := range doc.Buffers {
		assert.Empty(t, b.URI)
	}

	var modes []gltf.PrimitiveMode
	for _, m := range doc.Meshes {
		modes = append(modes, m.Primitives[0].Mode)
	}
	assert.Contains(t, modes, gltf.PrimitiveLineStrip)
	assert.Contains(t, modes, gltf.PrimitiveTriangles)
}

func TestEncoder_ExtrusionBounds(t *testing.T) {
	root := domain.NewGroup("scene")
	root.Add(usecases.BuildingNode(0, domain.BuildingMesh{
		Polygon: []domain.LocalPoint{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 3}, {X: 0, Y: 0}},
		Profile: domain.ExtrusionProfile{Depth: 7, Steps: 1},
	}))
	usecases.Prune(root)

	data, err := glb.NewEncoder().Encode(context.Background(), root)
	require.NoError(t, err)
	doc := decode(t, data)

	require.Len(t, doc.Meshes, 1)
	prim := doc.Meshes[0].Primitives[0]
	acc := doc.Accessors[prim.Attributes[gltf.POSITION]]
	require.Len(t, acc.Min, 3)
	assert.Equal(t, []float64{0, 0, 0}, acc.Min)
	assert.Equal(t, []float64{4, 3, 7}, acc.Max)

	// 2 caps of one triangle, 3 walls of two triangles
	assert.Equal(t, 3*(2+6), doc.Accessors[*prim.Indices].Count)

	building := doc.Nodes[1]
	assert.InDelta(t, -0.7071067811865475, building.Rotation[0], 1e-9)
}

func TestEncoder_IsDeterministic(t *testing.T) {
	enc := glb.NewEncoder()
	a, err := enc.Encode(context.Background(), testScene())
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), testScene())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncoder_EmptyGroup(t *testing.T) {
	data, err := glb.NewEncoder().Encode(context.Background(), domain.NewGroup("scene"))
	require.NoError(t, err)
	doc := decode(t, data)
	assert.Len(t, doc.Nodes, 1)
	assert.Empty(t, doc.Meshes)
}

func TestEncoder_Errors(t *testing.T) {
	_, err := glb.NewEncoder().Encode(context.Background(), nil)
	assert.Error(t, err)

	root := domain.NewGroup("scene")
	root.Add(&domain.SceneNode{
		Name:     "ground",
		Plane:    &domain.Plane{Width: 1, Depth: 1},
		Material: &domain.Material{Texture: &domain.Image{Name: "empty", MimeType: "image/png"}},
	})
	_, err = glb.NewEncoder().Encode(context.Background(), root)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = glb.NewEncoder().Encode(ctx, domain.NewGroup("scene"))
	assert.ErrorIs(t, err, context.Canceled)
}
