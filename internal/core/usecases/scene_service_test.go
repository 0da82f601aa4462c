package usecases_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/core/usecases"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
)

func newSceneService(t *testing.T, fetcher *mockFetcher, up *mockUploader, pub *mockPublisher, repo *mockAreaRepo) *usecases.SceneService {
	t.Helper()
	// nil mocks must reach the service as nil interfaces
	var (
		areas     ports.AreaRepository
		uploader  ports.ArtifactUploader
		publisher ports.EventPublisher
	)
	if repo != nil {
		areas = repo
	}
	if up != nil {
		uploader = up
	}
	if pub != nil {
		publisher = pub
	}
	pr := geospatial.NewProjector(0)
	svc := usecases.NewSceneService(
		areas,
		usecases.NewBuildingService(pr, 2),
		usecases.NewRoadService(fetcher, nil, pr, 0, 0),
		usecases.NewSceneBuilder(nil),
		pr,
		&mockEncoder{},
		uploader,
		publisher,
	)
	t.Cleanup(svc.Close)
	return svc
}

func testArea(south float64) domain.Area {
	return domain.Area{
		Corners: [2]domain.GeoPoint{
			{Lat: south, Lng: -2.940},
			{Lat: south + 0.01, Lng: -2.930},
		},
		Footprints: []domain.Footprint{square("w1", map[string]string{"name": "Town hall"}, false)},
		SpaceID:    "space-1",
	}
}

func roadsIn(n int) []domain.RoadElement {
	roads := make([]domain.RoadElement, n)
	for i := range roads {
		roads[i] = domain.RoadElement{
			ID:       int64(i + 1),
			Geometry: []domain.GeoPoint{{Lat: 43.26, Lng: -2.935}, {Lat: 43.261, Lng: -2.934}},
		}
	}
	return roads
}

func countRoadNodes(root *domain.SceneNode) int {
	n := 0
	root.Walk(func(node *domain.SceneNode) bool {
		if strings.HasPrefix(node.Name, "road/") {
			n++
		}
		return true
	})
	return n
}

func TestSceneService_SelectArea(t *testing.T) {
	pub := &mockPublisher{}
	repo := newMockAreaRepo()
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
			return roadsIn(3), nil
		},
	}
	svc := newSceneService(t, fetcher, nil, pub, repo)
	area := testArea(43.26)

	sum, err := svc.SelectArea(context.Background(), "s1", area)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Buildings)
	assert.Equal(t, area.Key(), sum.AreaKey)
	assert.Equal(t, area.Reference(), sum.Reference)

	svc.Wait()

	sum, err = svc.Scene("s1")
	require.NoError(t, err)
	assert.True(t, sum.RoadsLoaded)
	assert.Equal(t, 3, sum.Roads)
	// scene, buildings, building, info, roads, 3 roads
	assert.Equal(t, 8, sum.Nodes)
	assert.Equal(t, 7, sum.Exportable)

	root, err := svc.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, countRoadNodes(root))

	stored, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, area.Key(), stored.Key())

	require.Len(t, pub.roads, 1)
	assert.Equal(t, area.Key(), pub.roads[0].AreaKey)
}

func TestSceneService_DiscardsStaleRoadResponse(t *testing.T) {
	first := testArea(43.26)
	second := testArea(43.30)
	release := make(chan struct{})
	requested := make(chan struct{})

	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
			if b == first.Bounds() {
				close(requested)
				// The answer arrives after the area changed, regardless of cancellation.
				<-release
				return roadsIn(5), nil
			}
			return roadsIn(2), nil
		},
	}
	svc := newSceneService(t, fetcher, nil, nil, nil)

	_, err := svc.SelectArea(context.Background(), "s1", first)
	require.NoError(t, err)
	<-requested

	_, err = svc.SelectArea(context.Background(), "s1", second)
	require.NoError(t, err)
	close(release)
	svc.Wait()

	sum, err := svc.Scene("s1")
	require.NoError(t, err)
	assert.Equal(t, second.Key(), sum.AreaKey)
	assert.Equal(t, 2, sum.Roads)

	root, err := svc.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, countRoadNodes(root))
}

func TestSceneService_RoadFetchFailureLeavesRoadsEmpty(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
			return nil, context.DeadlineExceeded
		},
	}
	svc := newSceneService(t, fetcher, nil, nil, nil)

	_, err := svc.SelectArea(context.Background(), "s1", testArea(43.26))
	require.NoError(t, err)
	svc.Wait()

	sum, err := svc.Scene("s1")
	require.NoError(t, err)
	assert.False(t, sum.RoadsLoaded)
	assert.Zero(t, sum.Roads)
	assert.Equal(t, 1, sum.Buildings)
}

func TestSceneService_SelectArea_Invalid(t *testing.T) {
	svc := newSceneService(t, &mockFetcher{}, nil, nil, nil)

	bad := testArea(43.26)
	bad.Corners[1] = bad.Corners[0]
	_, err := svc.SelectArea(context.Background(), "s1", bad)
	assert.ErrorIs(t, err, usecases.ErrInvalidArea)

	bad = testArea(95)
	_, err = svc.SelectArea(context.Background(), "s1", bad)
	assert.ErrorIs(t, err, usecases.ErrInvalidArea)
}

func TestSceneService_RequestExport(t *testing.T) {
	up := &mockUploader{}
	pub := &mockPublisher{}
	svc := newSceneService(t, &mockFetcher{}, up, pub, nil)

	_, _, err := svc.RequestExport(context.Background(), "missing", domain.ExportRequest{})
	assert.ErrorIs(t, err, usecases.ErrUnknownSession)

	_, err = svc.SelectArea(context.Background(), "s1", testArea(43.26))
	require.NoError(t, err)
	svc.Wait()

	art, req, err := svc.RequestExport(context.Background(), "s1", domain.ExportRequest{Sink: domain.SinkLocal})
	require.NoError(t, err)
	assert.Equal(t, domain.SinkLocal, req.Sink)
	assert.Equal(t, 4, art.NodeCount, "info overlay is not exported")

	_, req, err = svc.RequestExport(context.Background(), "s1", domain.ExportRequest{Sink: domain.SinkRemote})
	require.NoError(t, err)
	assert.Equal(t, "space-1", req.SpaceID, "space id defaults to the area's")
	assert.Equal(t, []string{"space-1"}, up.spaces)

	require.Len(t, pub.exports, 2)
	assert.Equal(t, "succeeded", pub.exports[1].State)
	assert.Equal(t, "remote", pub.exports[1].Sink)

	sum, err := svc.Scene("s1")
	require.NoError(t, err)
	assert.Equal(t, "idle", sum.Export)
	assert.Equal(t, "succeeded", sum.LastExport)
}

func TestSceneService_ConcurrentExportsRunTheirOwnRequest(t *testing.T) {
	up := &mockUploader{}
	svc := newSceneService(t, &mockFetcher{}, up, nil, nil)
	_, err := svc.SelectArea(context.Background(), "s1", testArea(43.26))
	require.NoError(t, err)
	svc.Wait()

	type outcome struct {
		requested domain.SinkKind
		executed  domain.ExportRequest
		err       error
	}
	sinks := []domain.SinkKind{domain.SinkLocal, domain.SinkRemote}
	outcomes := make([]outcome, 200)

	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink := sinks[i%len(sinks)]
			_, executed, err := svc.RequestExport(context.Background(), "s1", domain.ExportRequest{Sink: sink})
			outcomes[i] = outcome{requested: sink, executed: executed, err: err}
		}()
	}
	wg.Wait()

	remoteOK := 0
	for _, o := range outcomes {
		if o.err != nil {
			require.ErrorIs(t, o.err, usecases.ErrExportInProgress)
			continue
		}
		assert.Equal(t, o.requested, o.executed.Sink)
		if o.requested == domain.SinkRemote {
			remoteOK++
		}
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, remoteOK, up.uploads, "every upload belongs to a caller that saw it succeed")
}

func TestSceneService_Restore(t *testing.T) {
	repo := newMockAreaRepo()
	require.NoError(t, repo.Save(context.Background(), "s1", &domain.Area{
		Corners: testArea(43.26).Corners,
	}))
	svc := newSceneService(t, &mockFetcher{}, nil, nil, repo)

	sum, err := svc.Restore(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, sum.Buildings)

	_, err = svc.Restore(context.Background(), "nope")
	assert.ErrorIs(t, err, usecases.ErrUnknownSession)
}

func TestSceneService_Forget(t *testing.T) {
	repo := newMockAreaRepo()
	svc := newSceneService(t, &mockFetcher{}, nil, nil, repo)
	ctx := context.Background()

	_, err := svc.SelectArea(ctx, "s1", testArea(43.26))
	require.NoError(t, err)
	svc.Wait()

	require.NoError(t, svc.Forget(ctx, "s1"))
	_, err = svc.Scene("s1")
	assert.ErrorIs(t, err, usecases.ErrUnknownSession)
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	assert.NoError(t, svc.Forget(ctx, "never-seen"))
}
