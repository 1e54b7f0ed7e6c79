// Package metrics records what a backfill run did as Prometheus metrics and
// pushes them to a Pushgateway once the run is over.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "feature_backfill"

// Recorder holds the metrics of a single run on its own registry
type Recorder struct {
	registry *prometheus.Registry

	csvRowsRead        prometheus.Counter
	csvRowsDropped     prometheus.Counter
	rowsInserted       *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	runDuration        prometheus.Gauge
	lastSuccess        prometheus.Gauge
}

// NewRecorder creates a Recorder with a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	auto := promauto.With(r.registry)

	r.csvRowsRead = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "csv_rows_read_total",
		Help:      "Rows read from the historical air quality CSV",
	})
	r.csvRowsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "csv_rows_dropped_total",
		Help:      "CSV rows dropped for a missing pm25 or a repeated day",
	})
	r.rowsInserted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_inserted_total",
		Help:      "Rows written to a feature group",
	}, []string{"feature_group"})
	r.validationFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_failures_total",
		Help:      "Failed expectations per feature group",
	}, []string{"feature_group"})
	r.runDuration = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last backfill run",
	})
	r.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful backfill run",
	})

	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) CSVRows(read, dropped int) {
	r.csvRowsRead.Add(float64(read))
	r.csvRowsDropped.Add(float64(dropped))
}

func (r *Recorder) RowsInserted(featureGroup string, n int) {
	r.rowsInserted.WithLabelValues(featureGroup).Add(float64(n))
}

func (r *Recorder) ValidationFailures(featureGroup string, n int) {
	r.validationFailures.WithLabelValues(featureGroup).Add(float64(n))
}

// RunFinished records the duration of the run and, when it succeeded, the
// completion time.
func (r *Recorder) RunFinished(d time.Duration, succeeded bool, at time.Time) {
	r.runDuration.Set(d.Seconds())
	if succeeded {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}

// Push sends every metric of the run to the Pushgateway at url under job
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("error pushing metrics to %s: %w", url, err)
	}
	return nil
}
