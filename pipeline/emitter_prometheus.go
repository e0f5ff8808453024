package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusEmitter is the in-process alternative to ClickHouseEmitter:
// it exposes the same stage lifecycle as counters/histograms on a
// prometheus.Registry instead of shipping rows to an external store.
// Registering the same Registry with an HTTP handler (promhttp) is the
// caller's responsibility; PrometheusEmitter only owns the collectors.
type PrometheusEmitter struct {
	stageEvents        *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	queueOverhead       *prometheus.HistogramVec
	errors              *prometheus.CounterVec
	pipelineRuns        *prometheus.CounterVec
	pipelineDurationSec prometheus.Histogram
}

// NewPrometheusEmitter registers the eventpipe collector set on reg and
// returns an Emitter backed by them. Passing prometheus.NewRegistry()
// keeps it isolated from the default registry.
func NewPrometheusEmitter(reg prometheus.Registerer) *PrometheusEmitter {
	e := &PrometheusEmitter{
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_stage_events_total",
			Help: "Events observed by a pipeline stage, labeled by stage and direction.",
		}, []string{"stage", "direction"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventpipe_stage_duration_seconds",
			Help:    "Wall-clock duration of one stage's run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		queueOverhead: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventpipe_queue_overhead_seconds",
			Help:    "Elapsed time a worker took to process one progress-checkpoint batch, as reported via EmitBatchMetrics.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_stage_errors_total",
			Help: "Errors reported by a pipeline stage.",
		}, []string{"stage"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_pipeline_runs_total",
			Help: "Pipeline executions, labeled by status.",
		}, []string{"status"}),
		pipelineDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventpipe_pipeline_duration_seconds",
			Help:    "Wall-clock duration of a full pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		e.stageEvents,
		e.stageDuration,
		e.queueOverhead,
		e.errors,
		e.pipelineRuns,
		e.pipelineDurationSec,
	)

	return e
}

func (e *PrometheusEmitter) EmitPipelineStart(executionID, pipelineType string, config PipelineConfig) {
	e.pipelineRuns.WithLabelValues("started").Inc()
}

func (e *PrometheusEmitter) EmitPipelineEnd(executionID string, inputCount, outputCount uint64, duration time.Duration) {
	e.pipelineRuns.WithLabelValues("completed").Inc()
	e.pipelineDurationSec.Observe(duration.Seconds())
}

func (e *PrometheusEmitter) EmitStageStart(executionID, stageName string, stageIndex uint32) {}

func (e *PrometheusEmitter) EmitStageEnd(executionID, stageName string, inputCount, outputCount uint64, duration time.Duration) {
	e.stageEvents.WithLabelValues(stageName, "in").Add(float64(inputCount))
	e.stageEvents.WithLabelValues(stageName, "out").Add(float64(outputCount))
	e.stageDuration.WithLabelValues(stageName).Observe(duration.Seconds())
}

func (e *PrometheusEmitter) EmitBatchMetrics(executionID, stageName, batchID, workerID string, batchSize uint32, processingTime time.Duration) {
	e.queueOverhead.WithLabelValues(stageName).Observe(processingTime.Seconds())
}

func (e *PrometheusEmitter) EmitError(executionID, stageName, errorMsg string) {
	e.errors.WithLabelValues(stageName).Inc()
}
