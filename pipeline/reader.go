package pipeline

import (
	"bufio"
	"os"
	"time"

	"go.uber.org/zap"
)

// runReader opens cfg.InputFile and pushes one RawEvent per line, with
// Sequence assigned 0, 1, 2, ... in read order. On open failure it logs
// and closes output immediately without reading anything. On EOF, or the
// first failed push (output closed downstream), it closes output and
// returns.
func runReader(cfg PipelineConfig, output *BoundedQueue[RawEvent], metrics *Metrics) {
	stageStart := time.Now()
	var read, pushed uint64

	cfg.Emitter.EmitStageStart(cfg.ExecutionID, "Reader", 0)
	defer func() {
		cfg.Emitter.EmitStageEnd(cfg.ExecutionID, "Reader", read, pushed, time.Since(stageStart))
	}()
	defer output.Close()

	file, err := os.Open(cfg.InputFile)
	if err != nil {
		cfg.Logger.Error("reader: open input file failed", zap.String("path", cfg.InputFile), zap.Error(err))
		cfg.Emitter.EmitError(cfg.ExecutionID, "Reader", err.Error())
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var sequence int64
	for {
		scanStart := time.Now()
		ok := scanner.Scan()
		if !ok {
			metrics.AddReaderProcessing(time.Since(scanStart))
			break
		}
		event := RawEvent{RawText: scanner.Text(), Sequence: sequence}
		read++
		metrics.AddReaderProcessing(time.Since(scanStart))

		pushStart := time.Now()
		pushedOK := output.Push(event)
		metrics.AddQueueOverhead(time.Since(pushStart))

		if !pushedOK {
			return
		}

		pushed++
		metrics.IncrementRead()
		sequence++
	}

	if err := scanner.Err(); err != nil {
		cfg.Logger.Error("reader: scan input file failed", zap.String("path", cfg.InputFile), zap.Error(err))
		cfg.Emitter.EmitError(cfg.ExecutionID, "Reader", err.Error())
	}
}
