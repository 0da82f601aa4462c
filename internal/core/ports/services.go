package ports

import (
	"context"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// RoadFetcher queries road ways inside the box spanned by two corners.
type RoadFetcher interface {
	FetchRoads(ctx context.Context, bounds domain.Bounds) ([]domain.RoadElement, error)
}

// SceneEncoder serializes a scene graph into a self-contained binary asset.
type SceneEncoder interface {
	Encode(ctx context.Context, root *domain.SceneNode) ([]byte, error)
	MediaType() string
}

// ArtifactUploader sends an exported artifact to the remote asset store.
type ArtifactUploader interface {
	Upload(ctx context.Context, artifact *domain.ExportArtifact, spaceID string) error
}

// EventPublisher publishes scene events to a message broker.
type EventPublisher interface {
	PublishExportEvent(ctx context.Context, event *domain.ExportEvent) error
	PublishRoadsLoaded(ctx context.Context, event *domain.RoadsLoadedEvent) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
