// Package metrics provides Prometheus metrics for fern merge runs.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Metrics holds the collectors of one run. A fresh registry per run keeps pushed values scoped
// to that run.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RecordsLoaded    *prometheus.GaugeVec
	GroupsTotal      *prometheus.CounterVec
	MutationsTotal   *prometheus.CounterVec
	StoreRequestTime *prometheus.HistogramVec
}

// New registers fern's collectors on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fern",
				Subsystem: "run",
				Name:      "total",
				Help:      "Total number of merge runs by status",
			},
			[]string{"status", "dry_run"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fern",
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Duration of merge runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		RecordsLoaded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fern",
				Subsystem: "snapshot",
				Name:      "records",
				Help:      "Number of records in the loaded snapshot by collection",
			},
			[]string{"collection"},
		),

		GroupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fern",
				Subsystem: "merge",
				Name:      "groups_total",
				Help:      "Total number of duplicate groups processed by kind",
			},
			[]string{"kind"},
		),

		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fern",
				Subsystem: "merge",
				Name:      "mutations_total",
				Help:      "Total number of decided mutations by target and outcome",
			},
			[]string{"target", "outcome"},
		),

		StoreRequestTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fern",
				Subsystem: "store",
				Name:      "request_duration_seconds",
				Help:      "Duration of record store calls in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSnapshot records the sizes of the loaded collections.
func (m *Metrics) ObserveSnapshot(prospects, contacts, activities int) {
	m.RecordsLoaded.WithLabelValues("prospects").Set(float64(prospects))
	m.RecordsLoaded.WithLabelValues("contacts").Set(float64(contacts))
	m.RecordsLoaded.WithLabelValues("activities").Set(float64(activities))
}

// ObserveGroup counts a processed group and every decided mutation in its trace.
func (m *Metrics) ObserveGroup(trace models.GroupTrace) {
	m.GroupsTotal.WithLabelValues(string(trace.Kind)).Inc()

	for _, lt := range trace.Losers {
		if lt.FieldUpdate != models.OutcomeUnchanged {
			m.MutationsTotal.WithLabelValues("prospect_fields", string(lt.FieldUpdate)).Inc()
		}
		for _, c := range lt.Contacts {
			m.MutationsTotal.WithLabelValues("contact", string(c.Outcome)).Inc()
		}
		for _, a := range lt.Activities {
			m.MutationsTotal.WithLabelValues("activity", string(a.Outcome)).Inc()
		}
		m.MutationsTotal.WithLabelValues("prospect_delete", string(lt.Deletion)).Inc()
	}

	for _, pt := range trace.Placeholders {
		m.MutationsTotal.WithLabelValues("placeholder_delete", string(pt.Deletion)).Inc()
	}
}

// ObserveRun records the run's final status and duration.
func (m *Metrics) ObserveRun(status string, dryRun bool, duration time.Duration) {
	m.RunsTotal.WithLabelValues(status, strconv.FormatBool(dryRun)).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// ObserveStoreCall records the latency of one record store call.
func (m *Metrics) ObserveStoreCall(operation string, duration time.Duration) {
	m.StoreRequestTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// Push sends the registry to a Prometheus Pushgateway.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
