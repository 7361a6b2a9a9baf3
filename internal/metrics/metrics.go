// Package metrics holds the Prometheus instruments of a covers run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const Namespace = "covers"

// Metrics is owned by one process and injected into the components that
// record into it. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SourceFetchesTotal    *prometheus.CounterVec
	CacheLookupsTotal     *prometheus.CounterVec
	PapersResolvedTotal   *prometheus.CounterVec
	DeliveriesTotal       *prometheus.CounterVec
	DeactivationsTotal    prometheus.Counter
	RunDurationSeconds    *prometheus.HistogramVec
	LastRunTimestampGauge *prometheus.GaugeVec
}

// New creates a registry and registers every instrument on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SourceFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "source",
				Name:      "fetches_total",
				Help:      "Upstream fetch attempts by source kind and result",
			},
			[]string{"kind", "result"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"},
		),
		PapersResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "resolver",
				Name:      "papers_total",
				Help:      "Paper resolutions by result",
			},
			[]string{"result"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "delivery",
				Name:      "outcomes_total",
				Help:      "Subscription outcomes by status",
			},
			[]string{"status"},
		),
		DeactivationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "delivery",
				Name:      "deactivations_total",
				Help:      "Subscriptions deactivated after repeated failures",
			},
		),
		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of prefetch and delivery runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3000},
			},
			[]string{"job"},
		),
		LastRunTimestampGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time at which each job last finished",
			},
			[]string{"job"},
		),
	}
}

// Registry exposes the underlying registry for pushing or scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) ObserveFetch(kind string, err error) {
	if m == nil {
		return
	}
	m.SourceFetchesTotal.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookupsTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveResolve(err error) {
	if m == nil {
		return
	}
	m.PapersResolvedTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveDelivery(status string, deactivated bool) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	if deactivated {
		m.DeactivationsTotal.Inc()
	}
}

func (m *Metrics) ObserveRun(job string, took time.Duration) {
	if m == nil {
		return
	}
	m.RunDurationSeconds.WithLabelValues(job).Observe(took.Seconds())
	m.LastRunTimestampGauge.WithLabelValues(job).SetToCurrentTime()
}

// Push sends every collected metric to a Pushgateway. An empty url is a
// no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
