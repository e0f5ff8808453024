package pipeline

import "time"

const rulesMetadataKey = "rule"
const rulesMetadataValue = "min_value_and_type"

// runRules applies the fixed predicate (value >= 10 AND type != "view")
// to every ParsedEvent popped from input. Survivors are wrapped in an
// EnrichedEvent and pushed to output; the rest are counted as filtered
// and dropped. The predicate is the contract: changing it is a breaking
// change, not a tunable.
func runRules(cfg PipelineConfig, input *BoundedQueue[ParsedEvent], output *BoundedQueue[EnrichedEvent], metrics *Metrics) {
	stageStart := time.Now()
	var popped, pushed uint64

	cfg.Emitter.EmitStageStart(cfg.ExecutionID, "Rules", 0)
	defer func() {
		cfg.Emitter.EmitStageEnd(cfg.ExecutionID, "Rules", popped, pushed, time.Since(stageStart))
	}()
	defer output.Close()

	for {
		parsed, ok := input.Pop()
		if !ok {
			return
		}
		popped++

		ruleStart := time.Now()
		passed := passesRules(parsed)
		var enriched EnrichedEvent
		if passed {
			enriched = EnrichedEvent{
				Event:       parsed,
				Metadata:    map[string]string{rulesMetadataKey: rulesMetadataValue},
				PassedRules: true,
			}
		}
		metrics.AddRulesProcessing(time.Since(ruleStart))

		if !passed {
			metrics.IncrementFiltered()
			continue
		}

		pushStart := time.Now()
		ok = output.Push(enriched)
		metrics.AddQueueOverhead(time.Since(pushStart))

		if !ok {
			return
		}
		pushed++
	}
}

func passesRules(event ParsedEvent) bool {
	return event.Value >= 10 && event.Type != string(EventTypeView)
}
