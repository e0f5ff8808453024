package pipeline

import "time"

// Emitter is the observability hook every stage reports through. It is
// pure side-channel plumbing: nothing in the dataflow contract depends
// on an Emitter call succeeding, and no implementation may block the
// caller for any meaningful amount of time. Metrics/MetricsSnapshot
// remain the one normative, synchronous metrics contract (spec §4.7);
// an Emitter is only ever an additional, best-effort observability sink
// (ClickHouseEmitter, PrometheusEmitter) layered on top of it.
type Emitter interface {
	EmitPipelineStart(executionID, pipelineType string, config PipelineConfig)
	EmitPipelineEnd(executionID string, inputCount, outputCount uint64, duration time.Duration)
	EmitStageStart(executionID, stageName string, stageIndex uint32)
	EmitStageEnd(executionID, stageName string, inputCount, outputCount uint64, duration time.Duration)
	EmitBatchMetrics(executionID, stageName, batchID, workerID string, batchSize uint32, processingTime time.Duration)
	EmitError(executionID, stageName, errorMsg string)
}

// NoOpEmitter discards every call. It is the default Emitter when a
// PipelineConfig does not configure one.
type NoOpEmitter struct{}

func (NoOpEmitter) EmitPipelineStart(string, string, PipelineConfig)                         {}
func (NoOpEmitter) EmitPipelineEnd(string, uint64, uint64, time.Duration)                     {}
func (NoOpEmitter) EmitStageStart(string, string, uint32)                                     {}
func (NoOpEmitter) EmitStageEnd(string, string, uint64, uint64, time.Duration)                {}
func (NoOpEmitter) EmitBatchMetrics(string, string, string, string, uint32, time.Duration)    {}
func (NoOpEmitter) EmitError(string, string, string)                                          {}
