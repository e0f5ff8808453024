package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_QueueSizeDefaultsTo10000WhenUnset(t *testing.T) {
	cfg := PipelineConfig{InputFile: "events.ndjson"}
	cfg.applyDefaults()

	require.NotNil(t, cfg.QueueSize)
	require.Equal(t, 10000, *cfg.QueueSize)
}

func TestApplyDefaults_ExplicitZeroQueueSizeStaysUnbounded(t *testing.T) {
	zero := 0
	cfg := PipelineConfig{InputFile: "events.ndjson", QueueSize: &zero}
	cfg.applyDefaults()

	require.NotNil(t, cfg.QueueSize)
	require.Equal(t, 0, *cfg.QueueSize)
	require.Equal(t, 0, cfg.queueSizeOrZero())
}

func TestApplyDefaults_ExplicitQueueSizePreserved(t *testing.T) {
	explicit := 42
	cfg := PipelineConfig{InputFile: "events.ndjson", QueueSize: &explicit}
	cfg.applyDefaults()

	require.Equal(t, 42, *cfg.QueueSize)
}

func TestApplyDefaults_FillsRemainingZeroValues(t *testing.T) {
	cfg := PipelineConfig{InputFile: "events.ndjson"}
	cfg.applyDefaults()

	require.Equal(t, "aggregate-results.ndjson", cfg.OutputFile)
	require.Greater(t, cfg.ParserThreads, 0)
	require.NotNil(t, cfg.Emitter)
	require.NotEmpty(t, cfg.ExecutionID)
	require.NotNil(t, cfg.Logger)
}

func TestQueueSizeOrZero_NilMeansUnbounded(t *testing.T) {
	cfg := PipelineConfig{InputFile: "events.ndjson"}

	require.Equal(t, 0, cfg.queueSizeOrZero())
}
