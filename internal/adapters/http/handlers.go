package http

import (
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/usecases"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
)

// DefaultMaxRadius caps center-based selections when none is configured.
const DefaultMaxRadius = 5000.0

const maxSessionIDLen = 128

// AreaRequest selects an area either by two corners or by a center and a
// radius in meters.
type AreaRequest struct {
	Corners    []domain.GeoPoint  `json:"corners,omitempty"`
	Center     *domain.GeoPoint   `json:"center,omitempty"`
	RadiusM    float64            `json:"radius_m,omitempty"`
	Footprints []domain.Footprint `json:"footprints"`
	SpaceID    string             `json:"space_id,omitempty"`
}

// ExportResponse describes a remote export.
type ExportResponse struct {
	Artifact *domain.ExportArtifact `json:"artifact"`
	Sink     string                 `json:"sink"`
	SpaceID  string                 `json:"space_id"`
	Bytes    int                    `json:"bytes"`
}

// ListSessionsHandler returns the ids of the live sessions.
func ListSessionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids := deps.Scenes.Sessions()
		sort.Strings(ids)
		return c.JSON(fiber.Map{"sessions": ids, "count": len(ids)})
	}
}

// SelectAreaHandler replaces the session's area and rebuilds its scene.
// Roads are loaded in the background.
func SelectAreaHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := sessionID(c)
		if !ok {
			return errBadRequest(c, "invalid session id")
		}

		var req AreaRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		area, err := req.toArea(deps.maxRadius())
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		summary, err := deps.Scenes.SelectArea(c.UserContext(), id, area)
		if err != nil {
			if errors.Is(err, usecases.ErrInvalidArea) {
				return errBadRequest(c, err.Error())
			}
			LoggerFromCtx(c.UserContext()).Error("select area", "session", id, "error", err)
			return errInternal(c, "failed to build scene")
		}
		return c.Status(fiber.StatusAccepted).JSON(summary)
	}
}

// GetSceneHandler returns the session's scene summary, restoring the
// session from its stored area when it is not live.
func GetSceneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := sessionID(c)
		if !ok {
			return errBadRequest(c, "invalid session id")
		}

		summary, err := deps.Scenes.Scene(id)
		if errors.Is(err, usecases.ErrUnknownSession) {
			summary, err = deps.Scenes.Restore(c.UserContext(), id)
		}
		if err != nil {
			if errors.Is(err, usecases.ErrUnknownSession) {
				return errNotFound(c, "session not found")
			}
			return errInternal(c, err.Error())
		}

		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(summary)
	}
}

// DeleteSessionHandler drops a session and its stored area.
func DeleteSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := sessionID(c)
		if !ok {
			return errBadRequest(c, "invalid session id")
		}
		if err := deps.Scenes.Forget(c.UserContext(), id); err != nil {
			return errInternal(c, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ExportHandler runs one export of the session's scene. A local export is
// returned as a GLB attachment; a remote export is uploaded and described.
func ExportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := sessionID(c)
		if !ok {
			return errBadRequest(c, "invalid session id")
		}
		sink, err := domain.ParseSinkKind(c.Query("sink"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		art, executed, err := deps.Scenes.RequestExport(c.UserContext(), id, domain.ExportRequest{
			Sink:    sink,
			SpaceID: c.Query("space_id"),
		})
		if err != nil {
			return exportError(c, id, err)
		}

		c.Set("X-Artifact-ID", art.ID)
		if executed.Sink == domain.SinkLocal {
			c.Set(fiber.HeaderContentType, art.MediaType)
			c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+art.Filename+`"`)
			return c.Send(art.Data)
		}
		return c.Status(fiber.StatusCreated).JSON(ExportResponse{
			Artifact: art,
			Sink:     executed.Sink.String(),
			SpaceID:  executed.SpaceID,
			Bytes:    art.Size(),
		})
	}
}

func exportError(c *fiber.Ctx, id string, err error) error {
	switch {
	case errors.Is(err, usecases.ErrUnknownSession):
		return errNotFound(c, "session not found")
	case errors.Is(err, usecases.ErrExportInProgress):
		return errConflict(c, err.Error())
	case errors.Is(err, usecases.ErrMissingSpaceID):
		return errBadRequest(c, err.Error())
	case errors.Is(err, usecases.ErrNoScene):
		return errNotFound(c, err.Error())
	case errors.Is(err, usecases.ErrUpload):
		return errBadGateway(c, err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("export", "session", id, "error", err)
		return errInternal(c, err.Error())
	}
}

func (r AreaRequest) toArea(maxRadius float64) (domain.Area, error) {
	area := domain.Area{Footprints: r.Footprints, SpaceID: r.SpaceID}
	switch {
	case len(r.Corners) == 2:
		area.Corners = [2]domain.GeoPoint{r.Corners[0], r.Corners[1]}
	case len(r.Corners) != 0:
		return area, errors.New("corners must hold exactly two points")
	case r.Center != nil:
		if r.RadiusM <= 0 || r.RadiusM > maxRadius {
			return area, errors.New("radius_m out of range")
		}
		b := geospatial.BoundingBox(r.Center.Lat, r.Center.Lng, r.RadiusM)
		area.Corners = [2]domain.GeoPoint{
			{Lat: b.South, Lng: b.West},
			{Lat: b.North, Lng: b.East},
		}
	default:
		return area, errors.New("either corners or center and radius_m are required")
	}
	return area, nil
}

func (d *Dependencies) maxRadius() float64 {
	if d.MaxRadius > 0 {
		return d.MaxRadius
	}
	return DefaultMaxRadius
}

func sessionID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	return id, id != "" && len(id) <= maxSessionIDLen
}
