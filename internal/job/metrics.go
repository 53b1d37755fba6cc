package job

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for compression jobs. A nil *Metrics
// records nothing.
type Metrics struct {
	SubmittedTotal  prometheus.Counter
	SupersededTotal prometheus.Counter
	CompletedTotal  *prometheus.CounterVec

	EncodeIterations prometheus.Histogram
	OutputBytes      prometheus.Histogram
}

// NewMetrics returns the process-wide job metrics, registering them with the
// default registry on first use.
//
// Metrics:
//   - compress_jobs_submitted_total - jobs accepted by an orchestrator
//   - compress_jobs_superseded_total - jobs abandoned by a newer submit
//   - compress_jobs_completed_total{status,reason} - terminal statuses emitted
//   - compress_encode_iterations - encode attempts per successful job
//   - compress_output_bytes - size of stored output
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SubmittedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "compress_jobs_submitted_total",
				Help: "Total number of compression jobs submitted",
			}),
			SupersededTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "compress_jobs_superseded_total",
				Help: "Total number of compression jobs no longer observed because a newer job replaced them",
			}),
			CompletedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compress_jobs_completed_total",
					Help: "Total number of terminal compression statuses emitted",
				},
				[]string{"status", "reason"},
			),
			EncodeIterations: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "compress_encode_iterations",
				Help:    "Encode attempts needed per compression",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 45},
			}),
			OutputBytes: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "compress_output_bytes",
				Help:    "Size of compressed output in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
			}),
		}
	})
	return globalMetrics
}

func (m *Metrics) submitted() {
	if m == nil {
		return
	}
	m.SubmittedTotal.Inc()
}

func (m *Metrics) superseded() {
	if m == nil {
		return
	}
	m.SupersededTotal.Inc()
}

func (m *Metrics) completed(s Status) {
	if m == nil {
		return
	}
	reason := ""
	if f, ok := s.(Failed); ok {
		reason = f.Reason.Code()
	}
	m.CompletedTotal.WithLabelValues(string(s.Kind()), reason).Inc()
}

func (m *Metrics) compressed(iterations int, size int64) {
	if m == nil {
		return
	}
	m.EncodeIterations.Observe(float64(iterations))
	m.OutputBytes.Observe(float64(size))
}
