package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"worldbackup/internal/logging"
)

const namespace = "worldbackup"

// Recorder owns the process's collectors. Each Recorder has its own
// registry so tests can build as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	lastSuccess     prometheus.Gauge
	lastArtifact    prometheus.Gauge
	evictions       *prometheus.CounterVec
	catalogBackups  prometheus.Gauge
	catalogBytes    prometheus.Gauge
	freeBytes       prometheus.Gauge
	breakerOpen     prometheus.Gauge
	floorConflicted prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New(world string) *Recorder {
	labels := prometheus.Labels{"world": world}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cycles_total",
			Help:        "Backup cycles by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "cycle_duration_seconds",
			Help:        "Wall-clock duration of backup cycles.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful backup.",
			ConstLabels: labels,
		}),
		lastArtifact: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_artifact_bytes",
			Help:        "Size of the most recent artifact.",
			ConstLabels: labels,
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "evictions_total",
			Help:        "Backups deleted by the retention policy, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		catalogBackups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "catalog_backups",
			Help:        "Backups currently in the catalog.",
			ConstLabels: labels,
		}),
		catalogBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "catalog_bytes",
			Help:        "Total recorded size of cataloged backups.",
			ConstLabels: labels,
		}),
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "backup_volume_free_bytes",
			Help:        "Free bytes on the backup volume at the last check.",
			ConstLabels: labels,
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "quiesce_breaker_open",
			Help:        "1 while the quiesce circuit breaker is open.",
			ConstLabels: labels,
		}),
		floorConflicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "retention_floor_conflict",
			Help:        "1 when the last eviction could not reach the free-space floor.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(
		r.cycles, r.cycleDuration, r.lastSuccess, r.lastArtifact, r.evictions,
		r.catalogBackups, r.catalogBytes, r.freeBytes, r.breakerOpen, r.floorConflicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveCycle counts one cycle outcome.
func (r *Recorder) ObserveCycle(outcome string, duration time.Duration) {
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

// ObserveSuccess records the finish time and size of a committed artifact.
func (r *Recorder) ObserveSuccess(finished time.Time, artifactBytes int64) {
	r.lastSuccess.Set(float64(finished.Unix()))
	r.lastArtifact.Set(float64(artifactBytes))
}

// ObserveEviction counts one deleted backup.
func (r *Recorder) ObserveEviction(reason string) {
	r.evictions.WithLabelValues(reason).Inc()
}

// SetCatalog publishes the catalog size.
func (r *Recorder) SetCatalog(backups int, bytes int64) {
	r.catalogBackups.Set(float64(backups))
	r.catalogBytes.Set(float64(bytes))
}

// SetFreeBytes publishes free space on the backup volume.
func (r *Recorder) SetFreeBytes(free int64) {
	r.freeBytes.Set(float64(free))
}

// SetFloorConflict publishes whether the free-space floor is unmet.
func (r *Recorder) SetFloorConflict(conflict bool) {
	r.floorConflicted.Set(boolFloat(conflict))
}

// SetBreakerState publishes a gobreaker state name.
func (r *Recorder) SetBreakerState(state string) {
	r.breakerOpen.Set(boolFloat(state == "open"))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Server is the optional /metrics listener.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds addr and prepares a server for r. Use Serve to start it.
func Listen(addr string, r *Recorder, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logging.NewComponentLogger(logger, "metrics"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve blocks until ctx is cancelled, then shuts the listener down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()
	s.logger.Info("metrics listener started", logging.String("address", s.Addr()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
