package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeNDJSON(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.ndjson")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runPipeline(t *testing.T, inputPath string, queueSize int) (MetricsSnapshot, []AggregateResult) {
	t.Helper()
	outputPath := filepath.Join(t.TempDir(), "output.ndjson")

	cfg := PipelineConfig{
		InputFile:     inputPath,
		OutputFile:    outputPath,
		ParserThreads: 4,
		QueueSize:     &queueSize,
	}

	snapshot, status := NewCoordinator(cfg).Run()
	require.Equal(t, 0, status)

	file, err := os.Open(outputPath)
	require.NoError(t, err)
	defer file.Close()

	var results []AggregateResult
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r AggregateResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	return snapshot, results
}

func resultByKey(results []AggregateResult, key string) (AggregateResult, bool) {
	for _, r := range results {
		if r.Key == key {
			return r, true
		}
	}
	return AggregateResult{}, false
}

func TestScenario_S1_SingleClickSurvives(t *testing.T) {
	path := writeNDJSON(t, `{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u1","value":10}`)
	_, results := runPipeline(t, path, 10000)

	require.Len(t, results, 1)
	require.Equal(t, "click", results[0].Key)
	require.Equal(t, int64(1), results[0].Count)
	require.Equal(t, int64(10), results[0].Sum)
	require.InDelta(t, 10.0, results[0].Avg, 1e-9)
}

func TestScenario_S2_ViewFiltered(t *testing.T) {
	path := writeNDJSON(t, `{"ts":"2024-01-01T00:00:00Z","type":"view","user":"u1","value":100}`)
	snapshot, results := runPipeline(t, path, 10000)

	require.Empty(t, results)
	require.Equal(t, int64(1), snapshot.FilteredEvents)
	require.Equal(t, int64(0), snapshot.AggregatedEvents)
}

func TestScenario_S3_ValueBelowThreshold(t *testing.T) {
	path := writeNDJSON(t, `{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u1","value":9}`)
	snapshot, results := runPipeline(t, path, 10000)

	require.Empty(t, results)
	require.Equal(t, int64(1), snapshot.FilteredEvents)
}

func TestScenario_S4_UnsupportedType(t *testing.T) {
	path := writeNDJSON(t, `{"ts":"2024-01-01T00:00:00Z","type":"login","user":"u1","value":50}`)
	snapshot, results := runPipeline(t, path, 10000)

	require.Empty(t, results)
	require.Equal(t, int64(1), snapshot.InvalidEvents)
}

func TestScenario_S5_MixedAggregation(t *testing.T) {
	path := writeNDJSON(t,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":10}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":30}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":100}`,
	)
	_, results := runPipeline(t, path, 10000)

	require.Len(t, results, 2)

	click, ok := resultByKey(results, "click")
	require.True(t, ok)
	require.Equal(t, int64(2), click.Count)
	require.Equal(t, int64(40), click.Sum)
	require.InDelta(t, 20.0, click.Avg, 1e-9)

	purchase, ok := resultByKey(results, "purchase")
	require.True(t, ok)
	require.Equal(t, int64(1), purchase.Count)
	require.Equal(t, int64(100), purchase.Sum)
	require.InDelta(t, 100.0, purchase.Avg, 1e-9)
}

func TestScenario_S6_InvalidTimestampStillAggregated(t *testing.T) {
	path := writeNDJSON(t, `{"ts":"not-a-date","type":"click","user":"u","value":10}`)
	_, results := runPipeline(t, path, 10000)

	require.Len(t, results, 1)
	require.Equal(t, "click", results[0].Key)
	require.Equal(t, int64(1), results[0].Count)
	require.Equal(t, int64(10), results[0].Sum)
}

func TestProperty_CounterConservation(t *testing.T) {
	path := writeNDJSON(t,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":10}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"view","user":"u","value":100}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":3}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"login","user":"u","value":50}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":100}`,
	)
	snapshot, _ := runPipeline(t, path, 10000)

	require.Equal(t, snapshot.ReadEvents, snapshot.ParsedEvents+snapshot.InvalidEvents)
	require.Equal(t, snapshot.ParsedEvents, snapshot.FilteredEvents+snapshot.AggregatedEvents)
}

func TestProperty_AggregateConservationAndKeyPartitioning(t *testing.T) {
	path := writeNDJSON(t,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":10}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":20}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"view","user":"u","value":1000}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":50}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":75}`,
	)
	snapshot, results := runPipeline(t, path, 10000)

	var totalCount, totalSum int64
	for _, r := range results {
		require.Contains(t, []string{"click", "purchase"}, r.Key)
		totalCount += r.Count
		totalSum += r.Sum
		require.InDelta(t, r.Sum, r.Avg*float64(r.Count), 1e-9*maxFloat(1, absFloat(float64(r.Sum))))
	}

	require.Equal(t, snapshot.AggregatedEvents, totalCount)
	require.Equal(t, int64(10+20+50+75), totalSum)
}

func TestProperty_TerminationWithVariousWorkerAndQueueCounts(t *testing.T) {
	lines := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		lines = append(lines, `{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":15}`)
	}
	path := writeNDJSON(t, lines...)

	for _, workers := range []int{1, 2, 8} {
		for _, queueSize := range []int{1, 0, 100} { // 0 exercises the unbounded path
			queueSize := queueSize
			cfg := PipelineConfig{
				InputFile:     path,
				OutputFile:    filepath.Join(t.TempDir(), "out.ndjson"),
				ParserThreads: workers,
				QueueSize:     &queueSize,
			}
			snapshot, status := NewCoordinator(cfg).Run()
			require.Equal(t, 0, status)
			require.Equal(t, int64(50), snapshot.AggregatedEvents)
		}
	}
}

func TestProperty_BackpressureLivenessAtQueueSizeOne(t *testing.T) {
	lines := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		lines = append(lines, `{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":12}`)
	}
	path := writeNDJSON(t, lines...)

	_, tightResults := runPipeline(t, path, 1)
	_, looseResults := runPipeline(t, path, 10000)

	require.Equal(t, looseResults, tightResults)
}

func TestProperty_DeterminismAcrossRepeatedRuns(t *testing.T) {
	path := writeNDJSON(t,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":11}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"click","user":"u","value":22}`,
		`{"ts":"2024-01-01T00:00:00Z","type":"purchase","user":"u","value":33}`,
	)

	_, first := runPipeline(t, path, 4)
	_, second := runPipeline(t, path, 4)

	require.ElementsMatch(t, first, second)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
