package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/usecases"
)

// testScene returns a scene with 7 nodes, 3 of which are excluded from export:
// scene > buildings > {b1 > info1, b2 > info2}, scene > cursor(transient).
func testScene() *domain.SceneNode {
	root := domain.NewGroup("scene")
	buildings := domain.NewGroup("buildings")
	for _, name := range []string{"b1", "b2"} {
		b := &domain.SceneNode{Name: name, Kind: domain.NodeMesh}
		b.Add(&domain.SceneNode{Name: "info/" + name, Kind: domain.NodeOverlay})
		buildings.Add(b)
	}
	root.Add(buildings)
	cursor := domain.NewGroup("cursor")
	cursor.Transient = true
	root.Add(cursor)
	return root
}

func TestPrune(t *testing.T) {
	root := testScene()
	require.Equal(t, 7, root.Count())

	removed := usecases.Prune(root)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 4, root.Count())
	root.Walk(func(n *domain.SceneNode) bool {
		assert.False(t, n.ExcludedFromExport(), n.Name)
		return true
	})
}

func TestPrune_DoesNotDescendIntoExcluded(t *testing.T) {
	root := domain.NewGroup("scene")
	panel := &domain.SceneNode{Name: "panel", Kind: domain.NodeOverlay}
	panel.Add(&domain.SceneNode{Name: "label", Kind: domain.NodeOverlay})
	root.Add(panel)

	assert.Equal(t, 1, usecases.Prune(root))
	assert.Equal(t, 1, root.Count())
}

func TestExportPipeline_Export_LeavesLiveSceneIntact(t *testing.T) {
	var encoded int
	enc := &mockEncoder{
		encodeFn: func(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
			encoded = root.Count()
			return []byte("glTF-bytes"), nil
		},
	}
	p := usecases.NewExportPipeline(enc, nil)
	scene := testScene()

	art, err := p.Export(context.Background(), scene, domain.ExportRequest{Sink: domain.SinkLocal})
	require.NoError(t, err)

	assert.Equal(t, 4, encoded)
	assert.Equal(t, 4, art.NodeCount)
	assert.Equal(t, 7, scene.Count())
	assert.Equal(t, usecases.LocalFilename, art.Filename)
	assert.Equal(t, "model/gltf-binary", art.MediaType)
	assert.NotEmpty(t, art.ID)
	assert.Equal(t, domain.ExportSucceeded, p.LastOutcome())
	assert.Equal(t, domain.ExportIdle, p.State())
}

func TestExportPipeline_DoubleTriggerYieldsOneArtifact(t *testing.T) {
	enc := &mockEncoder{}
	p := usecases.NewExportPipeline(enc, nil)
	scene := testScene()

	p.Trigger(domain.ExportRequest{Sink: domain.SinkLocal})
	p.Trigger(domain.ExportRequest{Sink: domain.SinkLocal})
	require.True(t, p.Pending())

	art, _, ran, err := p.Poll(context.Background(), scene)
	require.NoError(t, err)
	require.True(t, ran)
	require.NotNil(t, art)

	_, _, ran, _ = p.Poll(context.Background(), scene)
	assert.False(t, ran)
	assert.False(t, p.Pending())
	assert.Equal(t, 1, enc.Calls())
}

func TestExportPipeline_ConcurrentPollersConsumeOnce(t *testing.T) {
	enc := &mockEncoder{}
	p := usecases.NewExportPipeline(enc, nil)
	scene := testScene()
	p.Trigger(domain.ExportRequest{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	runs := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ran, _ := p.Poll(context.Background(), scene); ran {
				mu.Lock()
				runs++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, enc.Calls())
}

func TestExportPipeline_ConsumeRunsOnlyItsOwnTicket(t *testing.T) {
	enc := &mockEncoder{}
	up := &mockUploader{}
	p := usecases.NewExportPipeline(enc, up)
	scene := testScene()

	local := p.Trigger(domain.ExportRequest{Sink: domain.SinkLocal})
	remote := p.Trigger(domain.ExportRequest{Sink: domain.SinkRemote, SpaceID: "space-9"})

	// the local ticket was replaced before anyone consumed it
	art, ran, err := p.Consume(context.Background(), scene, local)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Nil(t, art)
	assert.Equal(t, 0, enc.Calls())
	require.True(t, p.Pending())

	art, ran, err = p.Consume(context.Background(), scene, remote)
	require.NoError(t, err)
	require.True(t, ran)
	require.NotNil(t, art)
	assert.Equal(t, []string{"space-9"}, up.spaces)

	_, ran, _ = p.Consume(context.Background(), scene, remote)
	assert.False(t, ran, "a ticket runs at most once")
	assert.Equal(t, 1, enc.Calls())
}

func TestExportPipeline_RejectsReentrantExport(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	enc := &mockEncoder{
		encodeFn: func(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
			close(started)
			<-release
			return []byte("glTF"), nil
		},
	}
	p := usecases.NewExportPipeline(enc, nil)
	scene := testScene()

	done := make(chan error, 1)
	go func() {
		_, err := p.Export(context.Background(), scene, domain.ExportRequest{})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first export never reached the encoder")
	}
	assert.Equal(t, domain.ExportExporting, p.State())

	_, err := p.Export(context.Background(), scene, domain.ExportRequest{})
	assert.ErrorIs(t, err, usecases.ErrExportInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, enc.Calls())
	assert.Equal(t, domain.ExportIdle, p.State())
}

func TestExportPipeline_SerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, root *domain.SceneNode) ([]byte, error)
	}{
		{"encoder error", func(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
			return nil, errors.New("bad mesh")
		}},
		{"empty output", func(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
			return nil, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUploader{}
			p := usecases.NewExportPipeline(&mockEncoder{encodeFn: tt.fn}, up)

			art, err := p.Export(context.Background(), testScene(), domain.ExportRequest{Sink: domain.SinkRemote, SpaceID: "s1"})
			assert.Nil(t, art)
			assert.ErrorIs(t, err, usecases.ErrSerialization)
			assert.Zero(t, up.uploads)
			assert.Equal(t, domain.ExportFailed, p.LastOutcome())
		})
	}
}

func TestExportPipeline_Remote(t *testing.T) {
	up := &mockUploader{}
	p := usecases.NewExportPipeline(&mockEncoder{}, up)

	art, err := p.Export(context.Background(), testScene(), domain.ExportRequest{Sink: domain.SinkRemote, SpaceID: "space-9"})
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, []string{"space-9"}, up.spaces)
}

func TestExportPipeline_UploadFailureIsNotRetried(t *testing.T) {
	up := &mockUploader{
		uploadFn: func(ctx context.Context, art *domain.ExportArtifact, spaceID string) error {
			return errors.New("503 from fleet")
		},
	}
	p := usecases.NewExportPipeline(&mockEncoder{}, up)

	_, err := p.Export(context.Background(), testScene(), domain.ExportRequest{Sink: domain.SinkRemote, SpaceID: "s"})
	assert.ErrorIs(t, err, usecases.ErrUpload)
	assert.Equal(t, 1, up.uploads)
	assert.Equal(t, domain.ExportFailed, p.LastOutcome())
}

func TestExportPipeline_RemoteValidation(t *testing.T) {
	enc := &mockEncoder{}

	_, err := usecases.NewExportPipeline(enc, &mockUploader{}).
		Export(context.Background(), testScene(), domain.ExportRequest{Sink: domain.SinkRemote})
	assert.ErrorIs(t, err, usecases.ErrMissingSpaceID)

	_, err = usecases.NewExportPipeline(enc, nil).
		Export(context.Background(), testScene(), domain.ExportRequest{Sink: domain.SinkRemote, SpaceID: "s"})
	assert.ErrorIs(t, err, usecases.ErrUpload)

	assert.Zero(t, enc.Calls())
}

func TestExportPipeline_NoScene(t *testing.T) {
	_, err := usecases.NewExportPipeline(&mockEncoder{}, nil).Export(context.Background(), nil, domain.ExportRequest{})
	assert.ErrorIs(t, err, usecases.ErrNoScene)
}
