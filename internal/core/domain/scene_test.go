package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzyAli/map3d/internal/core/domain"
)

func TestSceneNode_AddReparents(t *testing.T) {
	a := domain.NewGroup("a")
	b := domain.NewGroup("b")
	child := domain.NewGroup("child")

	a.Add(child)
	b.Add(child)

	assert.Empty(t, a.Children)
	assert.Equal(t, []*domain.SceneNode{child}, b.Children)
	assert.Same(t, b, child.Parent())
}

func TestSceneNode_Remove(t *testing.T) {
	root := domain.NewGroup("root")
	child := domain.NewGroup("child")
	root.Add(child)

	assert.True(t, root.Remove(child))
	assert.Nil(t, child.Parent())
	assert.False(t, root.Remove(child))
}

func TestSceneNode_CloneIsIndependent(t *testing.T) {
	root := domain.NewGroup("root")
	mesh := &domain.SceneNode{
		Name: "m",
		Kind: domain.NodeMesh,
		Extrusion: &domain.Extrusion{
			Polygon: []domain.LocalPoint{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}},
			Profile: domain.ExtrusionProfile{Depth: 10, Steps: 1},
		},
		Material: &domain.Material{
			Name:    "tex",
			Texture: &domain.Image{Name: "img", Data: []byte{1, 2, 3}},
		},
		Extras: map[string]string{"k": "v"},
	}
	root.Add(mesh)

	clone := root.Clone()
	require.Equal(t, root.Count(), clone.Count())
	assert.Nil(t, clone.Parent())

	cm := clone.Children[0]
	assert.Same(t, clone, cm.Parent())
	cm.Extrusion.Polygon[1].X = 99
	cm.Material.Texture.Data[0] = 9
	cm.Extras["k"] = "changed"
	clone.Remove(cm)

	assert.Equal(t, 1.0, mesh.Extrusion.Polygon[1].X)
	assert.Equal(t, byte(1), mesh.Material.Texture.Data[0])
	assert.Equal(t, "v", mesh.Extras["k"])
	assert.Len(t, root.Children, 1)
}

func TestSceneNode_WalkSkipsChildren(t *testing.T) {
	root := domain.NewGroup("root")
	skip := domain.NewGroup("skip")
	skip.Add(domain.NewGroup("hidden"))
	root.Add(skip, domain.NewGroup("visible"))

	var seen []string
	root.Walk(func(n *domain.SceneNode) bool {
		seen = append(seen, n.Name)
		return n.Name != "skip"
	})
	assert.Equal(t, []string{"root", "skip", "visible"}, seen)
}

func TestSceneNode_ExcludedFromExport(t *testing.T) {
	assert.False(t, (&domain.SceneNode{Kind: domain.NodeMesh}).ExcludedFromExport())
	assert.True(t, (&domain.SceneNode{Kind: domain.NodeOverlay}).ExcludedFromExport())
	assert.True(t, (&domain.SceneNode{Kind: domain.NodeGroup, Transient: true}).ExcludedFromExport())
}

func TestGeoPoint_UnmarshalJSON(t *testing.T) {
	var p domain.GeoPoint
	require.NoError(t, json.Unmarshal([]byte(`{"lat":43.2,"lon":-2.9}`), &p))
	assert.Equal(t, domain.GeoPoint{Lat: 43.2, Lng: -2.9}, p)

	require.NoError(t, json.Unmarshal([]byte(`{"lat":1,"lng":2}`), &p))
	assert.Equal(t, domain.GeoPoint{Lat: 1, Lng: 2}, p)

	assert.Error(t, json.Unmarshal([]byte(`{"lat":1}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"lng":1}`), &p))
}

func TestGeoPoint_UnmarshalJSON_NullEntries(t *testing.T) {
	var pts []domain.GeoPoint
	require.NoError(t, json.Unmarshal([]byte(`[{"lat":1,"lon":2},null,{"lat":3,"lon":4}]`), &pts))
	require.Len(t, pts, 3)
	assert.Equal(t, domain.GeoPoint{Lat: 1, Lng: 2}, pts[0])
	assert.True(t, pts[1].IsZero())
	assert.Equal(t, domain.GeoPoint{Lat: 3, Lng: 4}, pts[2])
}

func TestArea_KeyIgnoresCornerOrder(t *testing.T) {
	a := domain.Area{Corners: [2]domain.GeoPoint{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}}
	b := domain.Area{Corners: [2]domain.GeoPoint{{Lat: 3, Lng: 2}, {Lat: 1, Lng: 4}}}

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, domain.GeoPoint{Lat: 2, Lng: 3}, a.Reference())
	assert.Equal(t, domain.Bounds{South: 1, West: 2, North: 3, East: 4}, b.Bounds())
}

func TestParseSinkKind(t *testing.T) {
	for in, want := range map[string]domain.SinkKind{
		"": domain.SinkLocal, "glb": domain.SinkLocal, "local": domain.SinkLocal,
		"fleet": domain.SinkRemote, "remote": domain.SinkRemote,
	} {
		got, err := domain.ParseSinkKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := domain.ParseSinkKind("s3")
	assert.Error(t, err)
}
