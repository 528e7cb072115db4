// Package metrics holds the Prometheus metrics of a sync run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all Prometheus metrics of one process.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec // labels: result
	PositionsCreated prometheus.Counter
	PositionsDeleted prometheus.Counter
	ScrapedPositions prometheus.Gauge
	SyncDuration     prometheus.Histogram
}

// NewMetrics registers and returns all metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Sync runs by result",
		}, []string{"result"}),
		PositionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_positions_inserted_total",
			Help: "Positions inserted by sync runs",
		}),
		PositionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_positions_deleted_total",
			Help: "Positions deleted by sync runs",
		}),
		ScrapedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_scraped_positions",
			Help: "Open positions found by the last scrape",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Wall time of a sync run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	m.Registry.MustRegister(
		m.RunsTotal,
		m.PositionsCreated,
		m.PositionsDeleted,
		m.ScrapedPositions,
		m.SyncDuration,
	)
	return m
}

// ObserveSuccess records a completed run.
func (m *Metrics) ObserveSuccess(d reconcile.Delta, scraped int, took time.Duration) {
	m.RunsTotal.WithLabelValues(ResultSuccess).Inc()
	m.PositionsCreated.Add(float64(len(d.Inserted)))
	m.PositionsDeleted.Add(float64(len(d.Deleted)))
	m.ScrapedPositions.Set(float64(scraped))
	m.SyncDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveFailure(took time.Duration) {
	m.RunsTotal.WithLabelValues(ResultFailure).Inc()
	m.SyncDuration.Observe(took.Seconds())
}

// Push sends the registry to a Pushgateway under job, grouped by portfolio.
func (m *Metrics) Push(ctx context.Context, url, job, portfolio string) error {
	err := push.New(url, job).
		Gatherer(m.Registry).
		Grouping("portfolio", portfolio).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
