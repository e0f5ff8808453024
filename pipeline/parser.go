package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// runParserPool spawns cfg.ParserThreads workers, each popping RawEvent
// from input, extracting fields, and pushing ParsedEvent to output. The
// pool shares activeParsers, an atomic counter initialized to
// cfg.ParserThreads: the worker whose exit decrements it from 1 to 0 is
// the one that closes output, so output is closed exactly once no
// matter which worker finishes last.
func runParserPool(cfg PipelineConfig, input *BoundedQueue[RawEvent], output *BoundedQueue[ParsedEvent], metrics *Metrics) {
	var activeParsers atomic.Int32
	activeParsers.Store(int32(cfg.ParserThreads))

	var wg sync.WaitGroup
	wg.Add(cfg.ParserThreads)

	for i := 0; i < cfg.ParserThreads; i++ {
		workerIndex := i
		go func() {
			defer wg.Done()
			runParserWorker(cfg, workerIndex, input, output, metrics, &activeParsers)
		}()
	}

	wg.Wait()
}

func runParserWorker(cfg PipelineConfig, index int, input *BoundedQueue[RawEvent], output *BoundedQueue[ParsedEvent], metrics *Metrics, activeParsers *atomic.Int32) {
	workerID := fmt.Sprintf("parser-%d", index)
	stageStart := time.Now()
	var popped, emitted uint64

	cfg.Emitter.EmitStageStart(cfg.ExecutionID, "Parser", uint32(index))
	defer func() {
		duration := time.Since(stageStart)
		cfg.Emitter.EmitStageEnd(cfg.ExecutionID, "Parser", popped, emitted, duration)
	}()

	const checkpointEvery = 500
	sinceCheckpoint := 0
	checkpointStart := time.Now()

	closeIfLast := func() {
		if activeParsers.Add(-1) == 0 {
			output.Close()
		}
	}

	for {
		raw, ok := input.Pop()
		if !ok {
			closeIfLast()
			return
		}
		popped++

		parseStart := time.Now()
		parsed := extractParsedEvent(raw)
		metrics.AddParserProcessing(time.Since(parseStart))

		if !parsed.Valid {
			metrics.IncrementInvalid()
			continue
		}

		pushStart := time.Now()
		pushed := output.Push(parsed)
		metrics.AddQueueOverhead(time.Since(pushStart))

		if !pushed {
			closeIfLast()
			return
		}

		emitted++
		metrics.IncrementParsed()

		sinceCheckpoint++
		if sinceCheckpoint >= checkpointEvery {
			cfg.Emitter.EmitBatchMetrics(cfg.ExecutionID, "Parser", GenerateBatchID(), workerID, uint32(sinceCheckpoint), time.Since(checkpointStart))
			sinceCheckpoint = 0
			checkpointStart = time.Now()
		}
	}
}

// extractParsedEvent performs the ad-hoc field extraction spec'd for the
// parser: no real JSON parser, just substring search for each key. This
// is deliberately preserved from the source system: it is fragile under
// keys that appear as substrings of string values, nested
// objects/arrays, or non-ASCII input, but those are known limitations of
// the contract, not bugs.
func extractParsedEvent(raw RawEvent) ParsedEvent {
	text := raw.RawText

	typeVal, hasType := extractStringField(text, "type")
	userVal, hasUser := extractStringField(text, "user")
	value, hasValue := extractIntField(text, "value")

	if !hasType || !hasUser || !hasValue || !isSupportedEventType(typeVal) {
		return ParsedEvent{Sequence: raw.Sequence, Valid: false}
	}

	var timestampMs int64
	if tsVal, hasTs := extractStringField(text, "ts"); hasTs {
		timestampMs = parseTimestampMs(tsVal)
	}

	return ParsedEvent{
		Type:        typeVal,
		User:        userVal,
		Value:       value,
		TimestampMs: timestampMs,
		Sequence:    raw.Sequence,
		Valid:       true,
	}
}

// extractStringField locates "<key>" then the next ':', then the next
// two '"' characters; the substring between them is the value.
func extractStringField(text, key string) (string, bool) {
	afterColon, ok := findKeyColon(text, key)
	if !ok {
		return "", false
	}

	firstQuote := strings.IndexByte(afterColon, '"')
	if firstQuote == -1 {
		return "", false
	}
	rest := afterColon[firstQuote+1:]

	secondQuote := strings.IndexByte(rest, '"')
	if secondQuote == -1 {
		return "", false
	}

	return rest[:secondQuote], true
}

// extractIntField locates "<key>" then the next ':', then the next run
// of characters matching '-' or '0'-'9' and parses it as a signed
// 64-bit integer.
func extractIntField(text, key string) (int64, bool) {
	afterColon, ok := findKeyColon(text, key)
	if !ok {
		return 0, false
	}

	start := -1
	end := -1
	for i := 0; i < len(afterColon); i++ {
		c := afterColon[i]
		isDigitOrSign := c == '-' || (c >= '0' && c <= '9')
		if isDigitOrSign && start == -1 {
			start = i
		}
		if start != -1 && !isDigitOrSign {
			end = i
			break
		}
	}
	if start == -1 {
		return 0, false
	}
	if end == -1 {
		end = len(afterColon)
	}

	value, err := strconv.ParseInt(afterColon[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// findKeyColon locates "<key>" in text and returns the remainder of text
// starting just after the next ':' following the match.
func findKeyColon(text, key string) (string, bool) {
	needle := `"` + key + `"`
	idx := strings.Index(text, needle)
	if idx == -1 {
		return "", false
	}

	afterKey := text[idx+len(needle):]
	colon := strings.IndexByte(afterKey, ':')
	if colon == -1 {
		return "", false
	}

	return afterKey[colon+1:], true
}

// isoLayout matches the 19-character local-calendar-time prefix this
// contract accepts: YYYY-MM-DDTHH:MM:SS, interpreted as UTC. Anything
// after the 19th character (fractional seconds, "Z", offsets) is
// silently ignored, and any parse failure yields 0, not an invalidation.
const isoLayout = "2006-01-02T15:04:05"

func parseTimestampMs(ts string) int64 {
	if len(ts) < 19 {
		return 0
	}
	t, err := time.Parse(isoLayout, ts[:19])
	if err != nil {
		return 0
	}
	return t.UTC().UnixMilli()
}
