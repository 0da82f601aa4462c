package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/usecases"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
)

func TestRoadService_Build(t *testing.T) {
	pr := geospatial.NewProjector(0)
	svc := usecases.NewRoadService(&mockFetcher{}, nil, pr, 0, 0)

	road := domain.RoadElement{
		ID:       42,
		Geometry: []domain.GeoPoint{bilbao, {Lat: 43.264, Lng: -2.934}},
	}
	line, ok := svc.Build(road, bilbao)
	require.True(t, ok)
	assert.Equal(t, int64(42), line.RoadID)
	require.Len(t, line.Points, 2)

	assert.Zero(t, line.Points[0].X)
	assert.Zero(t, line.Points[0].Z)
	want := pr.Project(road.Geometry[1], bilbao)
	for _, p := range line.Points {
		assert.Equal(t, usecases.DefaultRoadElevation, p.Y)
	}
	assert.InDelta(t, want.X, line.Points[1].X, 1e-9)
	assert.InDelta(t, -want.Y, line.Points[1].Z, 1e-9)
}

func TestRoadService_BuildAll_SkipsUnusableGeometry(t *testing.T) {
	svc := usecases.NewRoadService(&mockFetcher{}, nil, geospatial.NewProjector(0), 0.5, 0)

	roads := []domain.RoadElement{
		{ID: 1},
		{ID: 2, Geometry: []domain.GeoPoint{bilbao}},
		{ID: 3, Geometry: []domain.GeoPoint{bilbao, {Lat: 43.2631, Lng: -2.9351}}},
	}
	lines := svc.BuildAll(roads, bilbao)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(3), lines[0].RoadID)
	assert.Equal(t, 0.5, lines[0].Points[0].Y)
}

func TestRoadService_Build_DropsNullPoints(t *testing.T) {
	svc := usecases.NewRoadService(&mockFetcher{}, nil, geospatial.NewProjector(0), 0, 0)

	var road domain.RoadElement
	require.NoError(t, json.Unmarshal([]byte(
		`{"id":7,"geometry":[{"lat":43.263,"lon":-2.935},null,{"lat":43.264,"lon":-2.934}]}`), &road))

	line, ok := svc.Build(road, bilbao)
	require.True(t, ok)
	assert.Len(t, line.Points, 2)

	road.Geometry = []domain.GeoPoint{bilbao, {}}
	_, ok = svc.Build(road, bilbao)
	assert.False(t, ok, "one real point is not a road")
}

func TestRoadService_Fetch_ReadsThroughCache(t *testing.T) {
	calls := 0
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
			calls++
			return []domain.RoadElement{{ID: 7, Geometry: []domain.GeoPoint{bilbao, bilbao}}}, nil
		},
	}
	svc := usecases.NewRoadService(fetcher, newMockCache(), geospatial.NewProjector(0), 0, 60)
	b := domain.BoundsOf(bilbao, domain.GeoPoint{Lat: 43.27, Lng: -2.93})

	first, err := svc.Fetch(context.Background(), b)
	require.NoError(t, err)
	second, err := svc.Fetch(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestRoadService_Fetch_Error(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
			return nil, boom
		},
	}
	svc := usecases.NewRoadService(fetcher, newMockCache(), geospatial.NewProjector(0), 0, 60)

	_, err := svc.Fetch(context.Background(), domain.Bounds{})
	assert.ErrorIs(t, err, boom)
}
