package ports

import (
	"context"
	"errors"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// AreaRepository persists the current area selection of each session.
type AreaRepository interface {
	Save(ctx context.Context, sessionID string, area *domain.Area) error
	Get(ctx context.Context, sessionID string) (*domain.Area, error)
	Delete(ctx context.Context, sessionID string) error
}
