// Package metrics exports monitoring cycle events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/meterbot/internal/models"
)

// Metrics bundles meterbot metrics on a dedicated registry.
// It implements monitor.Observer.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	FetchRetriesTotal    prometheus.Counter
	ClassificationsTotal *prometheus.CounterVec
	StateWriteErrors     prometheus.Counter
	NotifyFailures       prometheus.Counter
	HistoryFailures      prometheus.Counter
	MeterBalance         *prometheus.GaugeVec
	MeterFetchDuration   *prometheus.HistogramVec
}

// New constructs and registers metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterbot_cycles_total",
				Help: "Total monitoring cycles by result",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterbot_cycle_duration_seconds",
			Help:    "Monitoring cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		FetchRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbot_fetch_retries_total",
			Help: "Total retried meter fetches",
		}),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterbot_classifications_total",
				Help: "Total per-meter results by kind",
			},
			[]string{"kind"},
		),
		StateWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbot_state_write_errors_total",
			Help: "Total failed state writes",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbot_notify_failures_total",
			Help: "Total undelivered cycle reports",
		}),
		HistoryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbot_history_failures_total",
			Help: "Total cycles that could not be recorded",
		}),
		MeterBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meterbot_meter_balance",
				Help: "Last accepted balance per meter",
			},
			[]string{"meter"},
		),
		MeterFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meterbot_meter_process_duration_seconds",
				Help:    "Time to fetch and classify one meter",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"meter"},
		),
	}
	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.FetchRetriesTotal,
		m.ClassificationsTotal,
		m.StateWriteErrors,
		m.NotifyFailures,
		m.HistoryFailures,
		m.MeterBalance,
		m.MeterFetchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FetchRetry(_ models.Meter, _ int, _ error) {
	m.FetchRetriesTotal.Inc()
}

func (m *Metrics) MeterProcessed(meter models.Meter, result models.ClassificationResult, took time.Duration) {
	m.ClassificationsTotal.WithLabelValues(string(result.Kind)).Inc()
	m.MeterFetchDuration.WithLabelValues(meter.Name).Observe(took.Seconds())
	if result.StateUpdated && result.Kind != models.KindAnomaly {
		m.MeterBalance.WithLabelValues(meter.Name).Set(result.Current.Float())
	}
}

func (m *Metrics) StateWriteFailed(_ models.Meter, _ error) {
	m.StateWriteErrors.Inc()
}

func (m *Metrics) NotifyFailed(_ *models.CycleReport, _ error) {
	m.NotifyFailures.Inc()
}

func (m *Metrics) HistoryFailed(_ *models.CycleReport, _ error) {
	m.HistoryFailures.Inc()
}

func (m *Metrics) CycleFinished(report *models.CycleReport) {
	summary := report.Summary()
	m.CyclesTotal.WithLabelValues(summary.Outcome()).Inc()
	m.CycleDuration.Observe(report.Duration().Seconds())
}
