package http

import (
	"github.com/nats-io/nats.go"

	"github.com/AzyAli/map3d/internal/adapters/postgres"
	"github.com/AzyAli/map3d/internal/adapters/valkey"
	"github.com/AzyAli/map3d/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Scenes *usecases.SceneService
	NATS   *nats.Conn
	DB     *postgres.DB
	Cache  *valkey.Cache

	// MaxRadius caps the radius of center-based area selections, in meters.
	MaxRadius float64
}
