package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/pkg/geospatial"
	"github.com/AzyAli/map3d/internal/pkg/metrics"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrInvalidArea    = errors.New("invalid area")
)

// SceneSummary describes a session's live scene.
type SceneSummary struct {
	SessionID   string                `json:"session_id"`
	AreaKey     string                `json:"area_key"`
	Reference   domain.GeoPoint       `json:"reference"`
	Buildings   int                   `json:"buildings"`
	Roads       int                   `json:"roads"`
	RoadsLoaded bool                  `json:"roads_loaded"`
	Nodes       int                   `json:"nodes"`
	Exportable  int                   `json:"exportable_nodes"`
	Export      string                `json:"export_state"`
	LastExport  string                `json:"last_export"`
	SpaceID     string                `json:"space_id,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
	Meshes      []domain.BuildingMesh `json:"-"`
	Polylines   []domain.RoadPolyline `json:"-"`
}

type session struct {
	mu          sync.RWMutex
	area        domain.Area
	areaKey     string
	root        *domain.SceneNode
	meshes      []domain.BuildingMesh
	polylines   []domain.RoadPolyline
	roadsLoaded bool
	cancelRoads context.CancelFunc
	exporter    *ExportPipeline
}

// SceneService keeps one live scene per session: it rebuilds buildings on
// every area selection, loads roads in the background and exports on demand.
type SceneService struct {
	areas     ports.AreaRepository
	buildings *BuildingService
	roads     *RoadService
	builder   *SceneBuilder
	projector geospatial.Projector
	encoder   ports.SceneEncoder
	uploader  ports.ArtifactUploader
	publisher ports.EventPublisher

	mu       sync.Mutex
	sessions map[string]*session
	loads    sync.WaitGroup
}

// NewSceneService creates a new SceneService. areas, uploader and
// publisher may be nil.
func NewSceneService(
	areas ports.AreaRepository,
	buildings *BuildingService,
	roads *RoadService,
	builder *SceneBuilder,
	projector geospatial.Projector,
	encoder ports.SceneEncoder,
	uploader ports.ArtifactUploader,
	publisher ports.EventPublisher,
) *SceneService {
	return &SceneService{
		areas:     areas,
		buildings: buildings,
		roads:     roads,
		builder:   builder,
		projector: projector,
		encoder:   encoder,
		uploader:  uploader,
		publisher: publisher,
		sessions:  make(map[string]*session),
	}
}

// SelectArea replaces a session's area, rebuilds its building meshes and
// starts loading roads for the new area. The returned summary has no roads
// yet; they appear once the road query answers.
func (s *SceneService) SelectArea(ctx context.Context, sessionID string, area domain.Area) (*SceneSummary, error) {
	if err := validateArea(area); err != nil {
		return nil, err
	}
	area.UpdatedAt = time.Now()

	if s.areas != nil {
		if err := s.areas.Save(ctx, sessionID, &area); err != nil {
			return nil, fmt.Errorf("save area: %w", err)
		}
	}

	ref := area.Reference()
	meshes, err := s.buildings.BuildAll(ctx, area.Footprints, ref)
	if err != nil {
		return nil, fmt.Errorf("build footprints: %w", err)
	}
	root := s.builder.Compose(meshes, nil, s.extent(area))

	sess := s.getOrCreate(sessionID)
	key := area.Key()

	sess.mu.Lock()
	if sess.cancelRoads != nil {
		sess.cancelRoads()
	}
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.area = area
	sess.areaKey = key
	sess.root = root
	sess.meshes = meshes
	sess.polylines = nil
	sess.roadsLoaded = false
	sess.cancelRoads = cancel
	summary := s.summarize(sessionID, sess)
	sess.mu.Unlock()

	s.loads.Add(1)
	go s.loadRoads(loadCtx, sessionID, sess, key, area.Bounds(), ref)

	return summary, nil
}

// Restore rebuilds a session from its persisted area, if any.
func (s *SceneService) Restore(ctx context.Context, sessionID string) (*SceneSummary, error) {
	if s.areas == nil {
		return nil, ErrUnknownSession
	}
	area, err := s.areas.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("load area: %w", err)
	}
	return s.SelectArea(ctx, sessionID, *area)
}

// Scene returns the session's current scene summary.
func (s *SceneService) Scene(sessionID string) (*SceneSummary, error) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return nil, ErrUnknownSession
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return s.summarize(sessionID, sess), nil
}

// Snapshot returns a deep copy of the session's live scene graph.
func (s *SceneService) Snapshot(sessionID string) (*domain.SceneNode, error) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return nil, ErrUnknownSession
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.root.Clone(), nil
}

// Sessions returns the ids of all live sessions.
func (s *SceneService) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// RequestExport submits an export intent for the session and runs it. A
// caller only ever runs its own intent: when a concurrent request replaced
// or consumed it first, ErrExportInProgress is returned and nothing ran on
// this caller's behalf. The executed request is returned alongside the
// artifact.
func (s *SceneService) RequestExport(ctx context.Context, sessionID string, req domain.ExportRequest) (*domain.ExportArtifact, domain.ExportRequest, error) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return nil, req, ErrUnknownSession
	}

	sess.mu.RLock()
	root := sess.root
	if req.Sink == domain.SinkRemote && req.SpaceID == "" {
		req.SpaceID = sess.area.SpaceID
	}
	sess.mu.RUnlock()

	ticket := sess.exporter.Trigger(req)
	art, ran, err := sess.exporter.Consume(ctx, root, ticket)
	if !ran {
		return nil, req, ErrExportInProgress
	}

	event := &domain.ExportEvent{
		SessionID: sessionID,
		Sink:      req.Sink.String(),
		At:        time.Now(),
	}
	if err != nil {
		event.State = domain.ExportFailed.String()
		event.Error = err.Error()
	} else {
		event.State = domain.ExportSucceeded.String()
		event.ArtifactID = art.ID
		event.Bytes = art.Size()
	}
	if !errors.Is(err, ErrExportInProgress) {
		s.publishExport(ctx, event)
	}
	return art, req, err
}

// Forget drops a live session and its stored area. Forgetting an unknown
// session is not an error.
func (s *SceneService) Forget(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		sess.mu.Lock()
		if sess.cancelRoads != nil {
			sess.cancelRoads()
		}
		sess.mu.Unlock()
	}

	if s.areas != nil {
		if err := s.areas.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("delete area: %w", err)
		}
	}
	return nil
}

// Wait blocks until all outstanding road loads have finished.
func (s *SceneService) Wait() {
	s.loads.Wait()
}

// Close cancels outstanding road loads and waits for them.
func (s *SceneService) Close() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.cancelRoads != nil {
			sess.cancelRoads()
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()
	s.loads.Wait()
}

// loadRoads fetches roads for one area selection. The result is applied
// only if the session still shows the area that requested it.
func (s *SceneService) loadRoads(ctx context.Context, sessionID string, sess *session, key string, bounds domain.Bounds, ref domain.GeoPoint) {
	defer s.loads.Done()

	ctx, span := tracer.Start(ctx, "scene.load_roads")
	span.SetAttributes(attribute.String("area.key", key))
	defer span.End()

	elements, err := s.roads.Fetch(ctx, bounds)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "road fetch failed", "session", sessionID, "area", key, "error", err)
		}
		return
	}
	lines := s.roads.BuildAll(elements, ref)

	sess.mu.Lock()
	if sess.areaKey != key {
		sess.mu.Unlock()
		metrics.StaleRoadResponses.Inc()
		slog.DebugContext(ctx, "discarding stale road response", "session", sessionID, "area", key)
		return
	}
	group := findChild(sess.root, GroupRoads)
	if group == nil {
		group = domain.NewGroup(GroupRoads)
		sess.root.Add(group)
	}
	for _, c := range append([]*domain.SceneNode(nil), group.Children...) {
		group.Remove(c)
	}
	for _, l := range lines {
		group.Add(RoadNode(l))
	}
	sess.polylines = lines
	sess.roadsLoaded = true
	sess.mu.Unlock()

	slog.InfoContext(ctx, "roads loaded", "session", sessionID, "area", key, "roads", len(lines), "elements", len(elements))
	if s.publisher != nil {
		ev := &domain.RoadsLoadedEvent{SessionID: sessionID, AreaKey: key, Roads: len(lines), At: time.Now()}
		if err := s.publisher.PublishRoadsLoaded(ctx, ev); err != nil {
			slog.WarnContext(ctx, "publish roads loaded failed", "error", err)
		}
	}
}

func (s *SceneService) publishExport(ctx context.Context, event *domain.ExportEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishExportEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "publish export event failed", "error", err)
	}
}

func (s *SceneService) getOrCreate(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		sess.exporter = NewExportPipeline(s.encoder, s.uploader, WithSceneLock(sess.mu.RLocker()))
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *SceneService) lookup(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// extent returns the area's size in the local plane.
func (s *SceneService) extent(area domain.Area) domain.LocalPoint {
	ref := area.Reference()
	a := s.projector.Project(area.Corners[0], ref)
	b := s.projector.Project(area.Corners[1], ref)
	return domain.LocalPoint{X: b.X - a.X, Y: b.Y - a.Y}
}

// summarize must be called with sess.mu held.
func (s *SceneService) summarize(sessionID string, sess *session) *SceneSummary {
	sum := &SceneSummary{
		SessionID:   sessionID,
		AreaKey:     sess.areaKey,
		Reference:   sess.area.Reference(),
		Buildings:   len(sess.meshes),
		Roads:       len(sess.polylines),
		RoadsLoaded: sess.roadsLoaded,
		Export:      sess.exporter.State().String(),
		LastExport:  sess.exporter.LastOutcome().String(),
		SpaceID:     sess.area.SpaceID,
		UpdatedAt:   sess.area.UpdatedAt,
		Meshes:      sess.meshes,
		Polylines:   sess.polylines,
	}
	if sess.root != nil {
		sess.root.Walk(func(n *domain.SceneNode) bool {
			sum.Nodes++
			return true
		})
		sum.Exportable = sum.Nodes
		sess.root.Walk(func(n *domain.SceneNode) bool {
			if n != sess.root && n.ExcludedFromExport() {
				sum.Exportable -= n.Count()
				return false
			}
			return true
		})
	}
	return sum
}

func findChild(n *domain.SceneNode, name string) *domain.SceneNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func validateArea(area domain.Area) error {
	for _, c := range area.Corners {
		if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			return fmt.Errorf("%w: corner %+v out of range", ErrInvalidArea, c)
		}
	}
	if area.Corners[0] == area.Corners[1] {
		return fmt.Errorf("%w: corners coincide", ErrInvalidArea)
	}
	return nil
}
