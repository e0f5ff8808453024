package pipeline

import "time"

type aggregateBucket struct {
	count int64
	sum   int64
}

// runAggregator folds every EnrichedEvent with PassedRules true into a
// per-type (count, sum) bucket. Events with PassedRules false are
// ignored defensively; the rules stage should never forward one. Once
// input drains, it flushes one AggregateResult per distinct key (in
// unspecified order, since it iterates a map) and closes output. A push
// failure mid-flush aborts the remaining flush but output is still
// closed.
func runAggregator(cfg PipelineConfig, input *BoundedQueue[EnrichedEvent], output *BoundedQueue[AggregateResult], metrics *Metrics) {
	stageStart := time.Now()
	var popped, pushed uint64

	cfg.Emitter.EmitStageStart(cfg.ExecutionID, "Aggregator", 0)
	defer func() {
		cfg.Emitter.EmitStageEnd(cfg.ExecutionID, "Aggregator", popped, pushed, time.Since(stageStart))
	}()
	defer output.Close()

	buckets := make(map[string]*aggregateBucket)

	for {
		enriched, ok := input.Pop()
		if !ok {
			break
		}
		popped++

		foldStart := time.Now()
		if enriched.PassedRules {
			bucket, exists := buckets[enriched.Event.Type]
			if !exists {
				bucket = &aggregateBucket{}
				buckets[enriched.Event.Type] = bucket
			}
			bucket.count++
			bucket.sum += enriched.Event.Value
			metrics.IncrementAggregated()
		}
		metrics.AddAggregatorProcessing(time.Since(foldStart))
	}

	for key, bucket := range buckets {
		flushStart := time.Now()
		avg := 0.0
		if bucket.count != 0 {
			avg = float64(bucket.sum) / float64(bucket.count)
		}
		result := AggregateResult{Key: key, Count: bucket.count, Sum: bucket.sum, Avg: avg}
		metrics.AddAggregatorProcessing(time.Since(flushStart))

		pushStart := time.Now()
		ok := output.Push(result)
		metrics.AddQueueOverhead(time.Since(pushStart))

		if !ok {
			return
		}
		pushed++
	}
}
