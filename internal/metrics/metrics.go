package metrics

import (
	"fmt"
	"time"

	"github.com/ernie/namesweep/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics describing a reconciliation run
type Metrics struct {
	registry *prometheus.Registry

	StoredRecords   prometheus.Gauge
	DuplicateGroups prometheus.Gauge
	Batches         *prometheus.CounterVec
	Names           *prometheus.CounterVec
	StaleRecords    *prometheus.CounterVec
	LastRun         prometheus.Gauge
	LastRunSuccess  prometheus.Gauge
}

// New creates and registers all run metrics on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StoredRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "namesweep_identity_records",
			Help: "Identity records in the store when the run started",
		}),
		DuplicateGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "namesweep_duplicate_names",
			Help: "Display names stored against more than one identifier when the run started",
		}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "namesweep_batches_total",
			Help: "Profile lookup batches by outcome",
		}, []string{"outcome"}),
		Names: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "namesweep_names_total",
			Help: "Duplicate names by resolution outcome",
		}, []string{"outcome"}),
		StaleRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "namesweep_stale_records_total",
			Help: "Stale identity records by deletion outcome",
		}, []string{"outcome"}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "namesweep_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "namesweep_last_run_success",
			Help: "1 if the last run processed every batch, 0 otherwise",
		}),
	}
}

// Observe records the outcome of a run
func (m *Metrics) Observe(report reconcile.Report, runErr error, finished time.Time) {
	m.StoredRecords.Set(float64(report.TotalRecords))
	m.DuplicateGroups.Set(float64(report.DuplicateGroups))

	m.Batches.WithLabelValues("resolved").Add(float64(report.ResolvedBatches))
	m.Batches.WithLabelValues("skipped").Add(float64(report.SkippedBatches))

	m.Names.WithLabelValues("resolved").Add(float64(report.ResolvedNames))
	m.Names.WithLabelValues("unresolved").Add(float64(report.UnresolvedNames))
	m.Names.WithLabelValues("skipped").Add(float64(len(report.SkippedNames)))
	m.Names.WithLabelValues("fetch_failed").Add(float64(report.FetchFailures))

	if report.DryRun {
		m.StaleRecords.WithLabelValues("dry_run").Add(float64(report.Candidates))
	}
	m.StaleRecords.WithLabelValues("deleted").Add(float64(report.Deleted))
	m.StaleRecords.WithLabelValues("already_gone").Add(float64(report.AlreadyGone))
	m.StaleRecords.WithLabelValues("failed").Add(float64(report.DeleteFailures))
	m.StaleRecords.WithLabelValues("shared_keeper_id").Add(float64(report.SharedKeeperIDs))

	m.LastRun.Set(float64(finished.Unix()))
	if runErr == nil && report.SkippedBatches == 0 {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// Gatherer exposes the registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the metrics in Prometheus text format, atomically
// replacing path
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
