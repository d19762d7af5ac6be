package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	reposTotal      *prometheus.CounterVec
	conversions     *prometheus.CounterVec
	conversionTime  *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	archivedTotal   *prometheus.CounterVec
	archivedBytes   prometheus.Counter
	inflightWorkers prometheus.Gauge
	archiveTime     prometheus.Histogram
}

// New creates a collector registered on its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		reposTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dw2rc_repos_total",
				Help: "Source repositories seen by the migration batch",
			},
			[]string{"status"},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dw2rc_conversions_total",
				Help: "Resource migrations by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		conversionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dw2rc_conversion_duration_seconds",
				Help:    "Time taken by one resource migration",
				Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dw2rc_uploads_total",
				Help: "Upload reconciliations by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		archivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dw2rc_archive_objects_total",
				Help: "Files processed by the archive mirror",
			},
			[]string{"status"},
		),
		archivedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dw2rc_archive_bytes_total",
				Help: "Bytes uploaded by the archive mirror",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dw2rc_archive_inflight_workers",
				Help: "Number of archive workers currently running",
			},
		),
		archiveTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dw2rc_archive_object_duration_seconds",
				Help:    "Time taken to mirror one file",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.reposTotal,
		c.conversions,
		c.conversionTime,
		c.uploads,
		c.archivedTotal,
		c.archivedBytes,
		c.inflightWorkers,
		c.archiveTime,
	)

	return c
}

// IncRepo counts a repository by status (valid, invalid, unsupported, error)
func (c *Collector) IncRepo(status string) {
	c.reposTotal.WithLabelValues(status).Inc()
}

// ObserveConversion records one resource migration
func (c *Collector) ObserveConversion(resource string, outcome string, d time.Duration) {
	c.conversions.WithLabelValues(resource, outcome).Inc()
	if outcome != "skipped" {
		c.conversionTime.WithLabelValues(resource).Observe(d.Seconds())
	}
}

// ObserveUpload records one upload reconciliation
func (c *Collector) ObserveUpload(resource string, outcome string) {
	c.uploads.WithLabelValues(resource, outcome).Inc()
}

// IncArchiveSuccess counts a mirrored file and its bytes
func (c *Collector) IncArchiveSuccess(bytes int64, d time.Duration) {
	c.archivedTotal.WithLabelValues("success").Inc()
	c.archivedBytes.Add(float64(bytes))
	c.archiveTime.Observe(d.Seconds())
}

// IncArchiveFailed counts a file that could not be mirrored
func (c *Collector) IncArchiveFailed() {
	c.archivedTotal.WithLabelValues("failed").Inc()
}

// IncArchiveSkipped counts a file already present in the bucket
func (c *Collector) IncArchiveSkipped() {
	c.archivedTotal.WithLabelValues("skipped").Inc()
}

// AddInflightWorkers adjusts the running worker gauge
func (c *Collector) AddInflightWorkers(delta int) {
	c.inflightWorkers.Add(float64(delta))
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics until ctx is cancelled
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
