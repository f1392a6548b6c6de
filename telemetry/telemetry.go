package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by device accessors.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with every update transaction.
type Collector interface {
	ObserveUpdate(device, purpose string, duration time.Duration, err error)
	IncRangeReads(device, purpose string, count int)
	SetSnapshotWords(device string, words int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveUpdate(string, string, time.Duration, error) {}
func (noopCollector) IncRangeReads(string, string, int)                 {}
func (noopCollector) SetSnapshotWords(string, int)                      {}

// PrometheusCollector exposes accessor metrics via Prometheus.
type PrometheusCollector struct {
	updates       *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	rangeReads    *prometheus.CounterVec
	snapshotWords *prometheus.GaugeVec
}

var (
	metricsMu        sync.Mutex
	updateCounter    *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec
	rangeReadCounter *prometheus.CounterVec
	snapshotGauge    *prometheus.GaugeVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics already registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if updateCounter == nil {
		counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regio_update_total",
			Help: "Number of update transactions per device, purpose and result.",
		}, []string{"device", "purpose", "result"}))
		if err != nil {
			return nil, err
		}
		updateCounter = counter
	}
	if updateDuration == nil {
		histogram, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regio_update_duration_seconds",
			Help:    "Duration of update transactions including all range reads.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"device", "purpose"}))
		if err != nil {
			return nil, err
		}
		updateDuration = histogram
	}
	if rangeReadCounter == nil {
		counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regio_range_reads_total",
			Help: "Number of transport range reads issued per device and purpose.",
		}, []string{"device", "purpose"}))
		if err != nil {
			return nil, err
		}
		rangeReadCounter = counter
	}
	if snapshotGauge == nil {
		gauge, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regio_snapshot_words",
			Help: "Number of populated register addresses in the published snapshot.",
		}, []string{"device"}))
		if err != nil {
			return nil, err
		}
		snapshotGauge = gauge
	}

	return &PrometheusCollector{
		updates:       updateCounter,
		durations:     updateDuration,
		rangeReads:    rangeReadCounter,
		snapshotWords: snapshotGauge,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

// ObserveUpdate records the outcome and duration of one update transaction.
func (p *PrometheusCollector) ObserveUpdate(device, purpose string, duration time.Duration, err error) {
	if p == nil || p.updates == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.updates.WithLabelValues(device, purpose, result).Inc()
	p.durations.WithLabelValues(device, purpose).Observe(duration.Seconds())
}

// IncRangeReads counts transport reads.
func (p *PrometheusCollector) IncRangeReads(device, purpose string, count int) {
	if p == nil || p.rangeReads == nil || count <= 0 {
		return
	}
	p.rangeReads.WithLabelValues(device, purpose).Add(float64(count))
}

// SetSnapshotWords updates the populated-address gauge.
func (p *PrometheusCollector) SetSnapshotWords(device string, words int) {
	if p == nil || p.snapshotWords == nil {
		return
	}
	p.snapshotWords.WithLabelValues(device).Set(float64(words))
}
