// internal/monitoring/metrics.go

// Package monitoring exposes Prometheus metrics for pipeline runs.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RunsSkipped      prometheus.Counter
	LinksDiscovered  prometheus.Counter
	PagesCrawled     prometheus.Counter
	FetchesTotal     *prometheus.CounterVec
	RowsFiltered     *prometheus.CounterVec
	VehiclesStored   prometheus.Counter
	LastRunTimestamp prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carscout_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carscout_run_duration_seconds",
			Help:    "Wall time of complete pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),
		RunsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carscout_runs_skipped_total",
			Help: "Triggers coalesced because a run was already in progress.",
		}),
		LinksDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carscout_links_discovered_total",
			Help: "New listing links found by discovery.",
		}),
		PagesCrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carscout_pages_crawled_total",
			Help: "Listing pages visited by discovery.",
		}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carscout_fetches_total",
			Help: "Detail fetches by outcome.",
		}, []string{"outcome"}),
		RowsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carscout_rows_filtered_total",
			Help: "Rows rejected by the cleaning stage, by filter.",
		}, []string{"filter"}),
		VehiclesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carscout_vehicles_stored_total",
			Help: "Cleaned records written to the store.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carscout_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal, m.RunDuration, m.RunsSkipped,
		m.LinksDiscovered, m.PagesCrawled, m.FetchesTotal,
		m.RowsFiltered, m.VehiclesStored, m.LastRunTimestamp,
	)
	return m
}

// ObserveRun records a finished run's status and duration.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
