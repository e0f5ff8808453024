package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusEmitter_TracksStageAndPipelineMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	emitter := NewPrometheusEmitter(registry)

	emitter.EmitPipelineStart("exec-1", "Reader->Parser->Rules->Aggregator->Writer", PipelineConfig{})
	emitter.EmitStageStart("exec-1", "Parser", 0)
	emitter.EmitStageEnd("exec-1", "Parser", 10, 8, 5*time.Millisecond)
	emitter.EmitBatchMetrics("exec-1", "Parser", "batch-1", "parser-0", 500, time.Millisecond)
	emitter.EmitError("exec-1", "Writer", "disk full")
	emitter.EmitPipelineEnd("exec-1", 10, 8, 20*time.Millisecond)

	require.InDelta(t, 10.0, testutil.ToFloat64(emitter.stageEvents.WithLabelValues("Parser", "in")), 1e-9)
	require.InDelta(t, 8.0, testutil.ToFloat64(emitter.stageEvents.WithLabelValues("Parser", "out")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(emitter.errors.WithLabelValues("Writer")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(emitter.pipelineRuns.WithLabelValues("started")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(emitter.pipelineRuns.WithLabelValues("completed")), 1e-9)
}

func TestPrometheusEmitter_ImplementsEmitter(t *testing.T) {
	var _ Emitter = (*PrometheusEmitter)(nil)
}

func TestPrometheusEmitter_WiredIntoCoordinatorRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	emitter := NewPrometheusEmitter(registry)

	path := writeNDJSON(t, `{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u1","value":10}`)
	outputPath := t.TempDir() + "/output.ndjson"

	cfg := PipelineConfig{
		InputFile:     path,
		OutputFile:    outputPath,
		ParserThreads: 2,
		Emitter:       emitter,
	}

	_, status := NewCoordinator(cfg).Run()
	require.Equal(t, 0, status)

	require.Greater(t, testutil.ToFloat64(emitter.pipelineRuns.WithLabelValues("started")), 0.0)
	require.Greater(t, testutil.ToFloat64(emitter.pipelineRuns.WithLabelValues("completed")), 0.0)
	require.Greater(t, testutil.ToFloat64(emitter.stageEvents.WithLabelValues("Reader", "out")), 0.0)
}
