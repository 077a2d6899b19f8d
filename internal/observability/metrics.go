package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the layer pipeline.
type Metrics struct {
	BatchesIngested    *prometheus.CounterVec // labels: result={appended,already_ingested}
	BronzeRowsAppended prometheus.Counter

	StageRuns     *prometheus.CounterVec   // labels: stage={ingest,validate,transform}, status={pass,fail,error}
	StageDuration *prometheus.HistogramVec // labels: stage

	// Silver quality, from the latest validation report.
	SilverRows         prometheus.Gauge
	DuplicatesRemoved  prometheus.Gauge
	GapsFilled         prometheus.Gauge
	ValuesImputed      prometheus.Gauge
	OutOfRangeValues   prometheus.Gauge
	SilverMissingAfter prometheus.Gauge

	GoldRows prometheus.Gauge

	EventsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.BatchesIngested,
		m.BronzeRowsAppended,
		m.StageRuns,
		m.StageDuration,
		m.SilverRows,
		m.DuplicatesRemoved,
		m.GapsFilled,
		m.ValuesImputed,
		m.OutOfRangeValues,
		m.SilverMissingAfter,
		m.GoldRows,
		m.EventsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	gauge := func(name, h string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help(h)})
	}

	return &Metrics{
		BatchesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_ingested_total",
			Help:      help("Ingest attempts by result."),
		}, []string{"result"}),
		BronzeRowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bronze_rows_appended_total",
			Help:      help("Total rows appended to Bronze."),
		}),
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      help("Stage executions by stage and outcome."),
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      help("Duration of a stage including reads and writes."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		SilverRows:         gauge("silver_rows", "Rows in the latest Silver table."),
		DuplicatesRemoved:  gauge("silver_duplicates_removed", "Duplicate-date rows collapsed by the latest validation."),
		GapsFilled:         gauge("silver_gaps_filled", "Calendar days added by the latest validation."),
		ValuesImputed:      gauge("silver_values_imputed", "Values imputed by the latest validation."),
		OutOfRangeValues:   gauge("silver_out_of_range_values", "Values outside their plausible range in the latest Silver."),
		SilverMissingAfter: gauge("silver_missing_values", "Values still missing after imputation."),
		GoldRows:           gauge("gold_rows", "Rows in the latest Gold table."),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_events_published_total",
			Help:      help("Layer events published by outcome."),
		}, []string{"outcome"}),
	}
}
