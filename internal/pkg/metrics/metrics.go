package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "map3d",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "map3d",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Scene metrics
	BuildingsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "scene",
		Name:      "buildings_skipped_total",
		Help:      "Footprints skipped for having fewer than three points",
	})

	RoadsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "scene",
		Name:      "roads_skipped_total",
		Help:      "Road ways skipped for having fewer than two points",
	})

	StaleRoadResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "scene",
		Name:      "stale_road_responses_total",
		Help:      "Road responses discarded because the area changed meanwhile",
	})

	// Export metrics
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "export",
		Name:      "exports_total",
		Help:      "Total scene exports by sink and outcome",
	}, []string{"sink", "outcome"})

	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "map3d",
		Subsystem: "export",
		Name:      "duration_seconds",
		Help:      "Duration of scene exports",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"sink"})

	ArtifactSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "map3d",
		Subsystem: "export",
		Name:      "artifact_size_bytes",
		Help:      "Size of exported GLB artifacts",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// Overpass metrics
	OverpassRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "overpass",
		Name:      "requests_total",
		Help:      "Total Overpass API requests by status",
	}, []string{"status"})

	OverpassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "map3d",
		Subsystem: "overpass",
		Name:      "duration_seconds",
		Help:      "Duration of Overpass API requests",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "map3d",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "map3d",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "map3d",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "map3d",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "map3d",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		// fiber resolves the route pattern, which keeps session ids out of the labels
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from pgx pool stats.
// The stat is taken as an interface so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
