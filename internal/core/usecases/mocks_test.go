package usecases_test

import (
	"context"
	"sync"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
)

// --- Mock SceneEncoder ---

type mockEncoder struct {
	encodeFn func(ctx context.Context, root *domain.SceneNode) ([]byte, error)

	mu    sync.Mutex
	calls int
}

func (m *mockEncoder) Encode(ctx context.Context, root *domain.SceneNode) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.encodeFn != nil {
		return m.encodeFn(ctx, root)
	}
	return []byte("glTF"), nil
}

func (m *mockEncoder) MediaType() string { return "model/gltf-binary" }

func (m *mockEncoder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock ArtifactUploader ---

type mockUploader struct {
	uploadFn func(ctx context.Context, art *domain.ExportArtifact, spaceID string) error

	mu      sync.Mutex
	spaces  []string
	uploads int
}

func (m *mockUploader) Upload(ctx context.Context, art *domain.ExportArtifact, spaceID string) error {
	m.mu.Lock()
	m.uploads++
	m.spaces = append(m.spaces, spaceID)
	m.mu.Unlock()
	if m.uploadFn != nil {
		return m.uploadFn(ctx, art, spaceID)
	}
	return nil
}

// --- Mock RoadFetcher ---

type mockFetcher struct {
	fetchFn func(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error)
}

func (m *mockFetcher) FetchRoads(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, b)
	}
	return nil, nil
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu      sync.Mutex
	exports []domain.ExportEvent
	roads   []domain.RoadsLoadedEvent
}

func (m *mockPublisher) PublishExportEvent(ctx context.Context, e *domain.ExportEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports = append(m.exports, *e)
	return nil
}

func (m *mockPublisher) PublishRoadsLoaded(ctx context.Context, e *domain.RoadsLoadedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roads = append(m.roads, *e)
	return nil
}

// --- Mock AreaRepository ---

type mockAreaRepo struct {
	mu    sync.Mutex
	areas map[string]domain.Area
}

func newMockAreaRepo() *mockAreaRepo {
	return &mockAreaRepo{areas: make(map[string]domain.Area)}
}

func (m *mockAreaRepo) Save(ctx context.Context, sessionID string, a *domain.Area) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.areas[sessionID] = *a
	return nil
}

func (m *mockAreaRepo) Get(ctx context.Context, sessionID string) (*domain.Area, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.areas[sessionID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &a, nil
}

func (m *mockAreaRepo) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.areas, sessionID)
	return nil
}
