package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the per-pipeline stream metrics, labelled by pipeline name.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	reg *prometheus.Registry

	batches      *prometheus.CounterVec // airstream_batches_total{pipeline,status}
	messages     *prometheus.CounterVec // airstream_messages_total{pipeline}
	malformed    *prometheus.CounterVec // airstream_malformed_messages_total{pipeline}
	rows         *prometheus.CounterVec // airstream_rows_total{pipeline,stage}
	batchSeconds *prometheus.HistogramVec
	committed    *prometheus.GaugeVec // airstream_committed_batch_id{pipeline}
	retries      *prometheus.CounterVec

	// system gauges fed by Collector
	sysCPU  prometheus.Gauge
	procCPU prometheus.Gauge
	memPct  prometheus.Gauge
	ioWait  prometheus.Gauge
}

// NewPipeline registers the stream and system collectors on a fresh registry
func NewPipeline() *Pipeline {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Pipeline{
		reg: reg,
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_batches_total",
			Help: "Batch windows processed, partitioned by pipeline and status.",
		}, []string{"pipeline", "status"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_messages_total",
			Help: "Source messages consumed.",
		}, []string{"pipeline"}),
		malformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_malformed_messages_total",
			Help: "Source messages dropped because they matched neither envelope or were not valid JSON.",
		}, []string{"pipeline"}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_rows_total",
			Help: "Rows seen at each stage (decoded, dropped, duplicate, written).",
		}, []string{"pipeline", "stage"}),
		batchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airstream_batch_duration_seconds",
			Help:    "Time from window seal to checkpoint commit.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
		}, []string{"pipeline"}),
		committed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airstream_committed_batch_id",
			Help: "Last batch id whose checkpoint was committed.",
		}, []string{"pipeline"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_sink_retries_total",
			Help: "Sink write attempts that failed and were retried.",
		}, []string{"pipeline"}),
		sysCPU: f.NewGauge(prometheus.GaugeOpts{
			Name: "airstream_system_cpu_percent",
			Help: "System-wide CPU usage.",
		}),
		procCPU: f.NewGauge(prometheus.GaugeOpts{
			Name: "airstream_process_cpu_percent",
			Help: "CPU usage of this process.",
		}),
		memPct: f.NewGauge(prometheus.GaugeOpts{
			Name: "airstream_memory_percent",
			Help: "System memory usage.",
		}),
		ioWait: f.NewGauge(prometheus.GaugeOpts{
			Name: "airstream_iowait_percent",
			Help: "CPU time waiting for I/O.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.reg
}

// BatchStats summarises one processed window
type BatchStats struct {
	Messages   int
	Malformed  int // whole messages dropped
	Decoded    int
	Dropped    int // missing id or undecodable element
	Duplicates int
	Written    int
	Duration   time.Duration
}

// ObserveBatch records a committed window
func (p *Pipeline) ObserveBatch(pipeline string, batchID int64, s BatchStats) {
	if p == nil {
		return
	}
	p.batches.WithLabelValues(pipeline, "ok").Inc()
	p.messages.WithLabelValues(pipeline).Add(float64(s.Messages))
	p.malformed.WithLabelValues(pipeline).Add(float64(s.Malformed))
	p.rows.WithLabelValues(pipeline, "decoded").Add(float64(s.Decoded))
	p.rows.WithLabelValues(pipeline, "dropped").Add(float64(s.Dropped))
	p.rows.WithLabelValues(pipeline, "duplicate").Add(float64(s.Duplicates))
	p.rows.WithLabelValues(pipeline, "written").Add(float64(s.Written))
	p.batchSeconds.WithLabelValues(pipeline).Observe(s.Duration.Seconds())
	p.committed.WithLabelValues(pipeline).Set(float64(batchID))
}

// ObserveFailure records a window that could not be committed
func (p *Pipeline) ObserveFailure(pipeline string) {
	if p == nil {
		return
	}
	p.batches.WithLabelValues(pipeline, "failed").Inc()
}

// ObserveRetry records one failed sink attempt that will be retried
func (p *Pipeline) ObserveRetry(pipeline string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(pipeline).Inc()
}

func (p *Pipeline) setSystem(m *SystemMetrics) {
	if p == nil || m == nil {
		return
	}
	p.sysCPU.Set(m.CPUPercent)
	p.procCPU.Set(m.ProcessCPUPercent)
	p.memPct.Set(m.MemoryPercent)
	p.ioWait.Set(m.IOWaitPercent)
}
