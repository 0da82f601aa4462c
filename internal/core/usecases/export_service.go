package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
	"github.com/AzyAli/map3d/internal/pkg/metrics"
)

// LocalFilename is the download name of a locally exported scene.
const LocalFilename = "scene.glb"

var (
	ErrExportInProgress = errors.New("export already in progress")
	ErrNoScene          = errors.New("no scene to export")
	ErrSerialization    = errors.New("scene serialization failed")
	ErrUpload           = errors.New("artifact upload failed")
	ErrMissingSpaceID   = errors.New("remote export requires a space id")
)

var tracer = otel.Tracer("github.com/AzyAli/map3d/internal/core/usecases")

// ExportPipeline clones, prunes, encodes and dispatches a scene. It runs at
// most one export at a time; a concurrent Export is rejected with
// ErrExportInProgress.
type ExportPipeline struct {
	encoder  ports.SceneEncoder
	uploader ports.ArtifactUploader

	// sceneLock guards the live scene while it is cloned.
	sceneLock sync.Locker

	running sync.Mutex
	state   atomic.Int32
	last    atomic.Int32
	intent  atomic.Pointer[domain.ExportRequest]

	now func() time.Time
}

// ExportOption configures an ExportPipeline.
type ExportOption func(*ExportPipeline)

// WithSceneLock makes the pipeline hold l while cloning the live scene.
func WithSceneLock(l sync.Locker) ExportOption {
	return func(p *ExportPipeline) { p.sceneLock = l }
}

// WithClock overrides the artifact timestamp source.
func WithClock(now func() time.Time) ExportOption {
	return func(p *ExportPipeline) { p.now = now }
}

// NewExportPipeline creates a new ExportPipeline. uploader may be nil, in
// which case remote exports fail.
func NewExportPipeline(encoder ports.SceneEncoder, uploader ports.ArtifactUploader, opts ...ExportOption) *ExportPipeline {
	p := &ExportPipeline{
		encoder:  encoder,
		uploader: uploader,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Trigger records an export intent. Triggers that arrive before the intent
// is consumed collapse into one; the latest request wins. The returned
// ticket identifies this intent for Consume.
func (p *ExportPipeline) Trigger(req domain.ExportRequest) *domain.ExportRequest {
	ticket := &req
	p.intent.Store(ticket)
	return ticket
}

// Pending reports whether an unconsumed trigger exists.
func (p *ExportPipeline) Pending() bool {
	return p.intent.Load() != nil
}

// Poll consumes the pending trigger, if any, and runs one export for it.
// The consume is an atomic swap, so concurrent pollers never export the
// same trigger twice. ran is false when there was nothing to consume.
func (p *ExportPipeline) Poll(ctx context.Context, scene *domain.SceneNode) (art *domain.ExportArtifact, req domain.ExportRequest, ran bool, err error) {
	pending := p.intent.Swap(nil)
	if pending == nil {
		return nil, domain.ExportRequest{}, false, nil
	}
	art, err = p.Export(ctx, scene, *pending)
	return art, *pending, true, err
}

// Consume runs the export for ticket only if ticket is still the pending
// intent. When a later trigger replaced it, or another poller took it,
// nothing runs and ran is false.
func (p *ExportPipeline) Consume(ctx context.Context, scene *domain.SceneNode, ticket *domain.ExportRequest) (art *domain.ExportArtifact, ran bool, err error) {
	if ticket == nil || !p.intent.CompareAndSwap(ticket, nil) {
		return nil, false, nil
	}
	art, err = p.Export(ctx, scene, *ticket)
	return art, true, err
}

// State returns Exporting while an export runs and Idle otherwise.
func (p *ExportPipeline) State() domain.ExportState {
	return domain.ExportState(p.state.Load())
}

// LastOutcome returns Succeeded or Failed for the most recent export, or
// Idle if none finished yet.
func (p *ExportPipeline) LastOutcome() domain.ExportState {
	return domain.ExportState(p.last.Load())
}

// Export runs the pipeline once. The live scene is never modified.
func (p *ExportPipeline) Export(ctx context.Context, scene *domain.SceneNode, req domain.ExportRequest) (*domain.ExportArtifact, error) {
	if scene == nil {
		return nil, ErrNoScene
	}
	if !p.running.TryLock() {
		return nil, ErrExportInProgress
	}
	defer p.running.Unlock()

	p.state.Store(int32(domain.ExportExporting))
	defer p.state.Store(int32(domain.ExportIdle))

	ctx, span := tracer.Start(ctx, "scene.export")
	span.SetAttributes(attribute.String("export.sink", req.Sink.String()))
	defer span.End()

	start := time.Now()
	art, err := p.run(ctx, scene, req)
	metrics.ExportDuration.WithLabelValues(req.Sink.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		p.last.Store(int32(domain.ExportFailed))
		metrics.ExportsTotal.WithLabelValues(req.Sink.String(), "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "scene export failed", "sink", req.Sink.String(), "error", err)
		return nil, err
	}

	p.last.Store(int32(domain.ExportSucceeded))
	metrics.ExportsTotal.WithLabelValues(req.Sink.String(), "succeeded").Inc()
	metrics.ArtifactSize.Observe(float64(art.Size()))
	span.SetAttributes(
		attribute.Int("export.bytes", art.Size()),
		attribute.Int("export.nodes", art.NodeCount),
	)
	slog.InfoContext(ctx, "scene exported",
		"artifact", art.ID, "sink", req.Sink.String(), "bytes", art.Size(), "nodes", art.NodeCount)
	return art, nil
}

func (p *ExportPipeline) run(ctx context.Context, scene *domain.SceneNode, req domain.ExportRequest) (*domain.ExportArtifact, error) {
	if req.Sink == domain.SinkRemote {
		if req.SpaceID == "" {
			return nil, ErrMissingSpaceID
		}
		if p.uploader == nil {
			return nil, fmt.Errorf("%w: no uploader configured", ErrUpload)
		}
	}

	clone := p.snapshot(scene)
	pruned := Prune(clone)

	data, err := p.encoder.Encode(ctx, clone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: encoder returned no data", ErrSerialization)
	}

	art := &domain.ExportArtifact{
		ID:        uuid.NewString(),
		Data:      data,
		MediaType: p.encoder.MediaType(),
		Filename:  LocalFilename,
		NodeCount: clone.Count(),
		CreatedAt: p.now(),
	}
	slog.DebugContext(ctx, "scene pruned for export", "removed", pruned, "remaining", art.NodeCount)

	switch req.Sink {
	case domain.SinkLocal:
		return art, nil
	case domain.SinkRemote:
		if err := p.uploader.Upload(ctx, art, req.SpaceID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		return art, nil
	default:
		return nil, fmt.Errorf("unsupported sink %v", req.Sink)
	}
}

func (p *ExportPipeline) snapshot(scene *domain.SceneNode) *domain.SceneNode {
	if p.sceneLock != nil {
		p.sceneLock.Lock()
		defer p.sceneLock.Unlock()
	}
	return scene.Clone()
}

// Prune detaches every transient or overlay node from root's subtree and
// returns how many subtrees were removed. Nodes are collected first and
// detached afterwards so the walk never sees a mutated child list.
func Prune(root *domain.SceneNode) int {
	var doomed []*domain.SceneNode
	root.Walk(func(n *domain.SceneNode) bool {
		if n != root && n.ExcludedFromExport() {
			doomed = append(doomed, n)
			return false
		}
		return true
	})
	for _, n := range doomed {
		if parent := n.Parent(); parent != nil {
			parent.Remove(n)
		}
	}
	return len(doomed)
}
