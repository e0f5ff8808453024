package pipeline

import (
	"sync"
	"time"
)

func durationFromSnapshot(snap MetricsSnapshot) time.Duration {
	return time.Duration(snap.DurationSec * float64(time.Second))
}

// Coordinator owns the four bounded queues between stages, spawns every
// stage goroutine, and bookends the run with Metrics.MarkStart/MarkEnd.
type Coordinator struct {
	config PipelineConfig
}

// NewCoordinator applies PipelineConfig defaults and returns a
// Coordinator ready to Run.
func NewCoordinator(cfg PipelineConfig) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{config: cfg}
}

// Run wires reader -> N parsers -> rules -> aggregator -> writer,
// spawns every stage in that left-to-right order, waits on a single
// WaitGroup until all of them have returned (the stages are not joined
// one at a time in order), marks the end of the run, and returns the
// terminal Metrics snapshot. It always returns status 0:
// every error this pipeline can hit (bad input/output path, malformed
// record) is handled within a stage, not escalated to the caller.
func (c *Coordinator) Run() (MetricsSnapshot, int) {
	cfg := c.config
	metrics := &Metrics{}

	queueSize := cfg.queueSizeOrZero()
	rawQueue := NewBoundedQueue[RawEvent](queueSize)
	parsedQueue := NewBoundedQueue[ParsedEvent](queueSize)
	enrichedQueue := NewBoundedQueue[EnrichedEvent](queueSize)
	resultQueue := NewBoundedQueue[AggregateResult](queueSize)

	metrics.MarkStart()
	cfg.Emitter.EmitPipelineStart(cfg.ExecutionID, "Reader->Parser->Rules->Aggregator->Writer", cfg)

	var wg sync.WaitGroup
	wg.Add(5)

	go func() {
		defer wg.Done()
		runReader(cfg, rawQueue, metrics)
	}()

	go func() {
		defer wg.Done()
		runParserPool(cfg, rawQueue, parsedQueue, metrics)
	}()

	go func() {
		defer wg.Done()
		runRules(cfg, parsedQueue, enrichedQueue, metrics)
	}()

	go func() {
		defer wg.Done()
		runAggregator(cfg, enrichedQueue, resultQueue, metrics)
	}()

	go func() {
		defer wg.Done()
		runWriter(cfg, resultQueue, metrics)
	}()

	wg.Wait()
	metrics.MarkEnd()

	snapshot := metrics.Snapshot()
	cfg.Emitter.EmitPipelineEnd(cfg.ExecutionID, uint64(snapshot.ReadEvents), uint64(snapshot.AggregatedEvents), durationFromSnapshot(snapshot))

	return snapshot, 0
}
