package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"
)

// runWriter opens cfg.OutputFile and serializes each AggregateResult
// popped from input as one compact JSON line. If the file fails to
// open, the writer still drains input to completion rather than
// stopping: with a bounded queue, leaving input undrained would let the
// aggregator's final push block forever once the queue fills (see
// DESIGN.md, Resolved Open Questions #1). Nothing is written in that case, only
// discarded.
func runWriter(cfg PipelineConfig, input *BoundedQueue[AggregateResult], metrics *Metrics) {
	stageStart := time.Now()
	var popped, written uint64

	cfg.Emitter.EmitStageStart(cfg.ExecutionID, "Writer", 0)
	defer func() {
		duration := time.Since(stageStart)
		metrics.AddWriterProcessing(duration)
		cfg.Emitter.EmitStageEnd(cfg.ExecutionID, "Writer", popped, written, duration)
	}()

	file, err := os.Create(cfg.OutputFile)
	if err != nil {
		cfg.Logger.Error("writer: open output file failed", zap.String("path", cfg.OutputFile), zap.Error(err))
		cfg.Emitter.EmitError(cfg.ExecutionID, "Writer", err.Error())
		drainResults(input, &popped)
		return
	}
	defer file.Close()

	bufWriter := bufio.NewWriter(file)
	defer bufWriter.Flush()

	for {
		result, ok := input.Pop()
		if !ok {
			return
		}
		popped++

		line, err := json.Marshal(result)
		if err != nil {
			cfg.Logger.Error("writer: marshal aggregate result failed", zap.Error(err))
			cfg.Emitter.EmitError(cfg.ExecutionID, "Writer", err.Error())
			continue
		}

		if _, err := bufWriter.Write(line); err != nil {
			cfg.Logger.Error("writer: write output line failed", zap.Error(err))
			cfg.Emitter.EmitError(cfg.ExecutionID, "Writer", err.Error())
			return
		}
		if _, err := bufWriter.WriteString("\n"); err != nil {
			cfg.Logger.Error("writer: write output line failed", zap.Error(err))
			return
		}
		written++
	}
}

func drainResults(input *BoundedQueue[AggregateResult], popped *uint64) {
	for {
		_, ok := input.Pop()
		if !ok {
			return
		}
		*popped++
	}
}
