package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunWriter_WritesOneJSONLinePerResult(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.ndjson")

	input := NewBoundedQueue[AggregateResult](0)
	input.Push(AggregateResult{Key: "click", Count: 2, Sum: 30, Avg: 15})
	input.Push(AggregateResult{Key: "purchase", Count: 1, Sum: 100, Avg: 100})
	input.Close()

	cfg := PipelineConfig{OutputFile: outputPath}
	cfg.applyDefaults()

	runWriter(cfg, input, &Metrics{})

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer file.Close()

	var lines []AggregateResult
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r AggregateResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		lines = append(lines, r)
	}

	require.Len(t, lines, 2)
	require.Equal(t, "click", lines[0].Key)
	require.Equal(t, "purchase", lines[1].Key)
}

func TestRunWriter_OpenFailureDrainsInputWithoutPanicking(t *testing.T) {
	input := NewBoundedQueue[AggregateResult](0)
	input.Push(AggregateResult{Key: "click", Count: 1, Sum: 10, Avg: 10})
	input.Push(AggregateResult{Key: "view", Count: 1, Sum: 20, Avg: 20})
	input.Close()

	// A directory path cannot be os.Create'd, forcing the open-failure path.
	cfg := PipelineConfig{OutputFile: t.TempDir(), Logger: zap.NewNop(), Emitter: &NoOpEmitter{}}

	runWriter(cfg, input, &Metrics{})

	_, ok := input.Pop()
	require.False(t, ok)
}
