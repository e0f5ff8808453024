package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics is the single lock-free counters-and-timers object shared by
// every stage in one pipeline run. All increments go through
// sync/atomic, whose operations are sequentially consistent (stronger
// than the relaxed ordering these counters need); Snapshot is only ever called after every stage goroutine has been
// joined, so no additional fencing beyond that join is required.
type Metrics struct {
	read       atomic.Int64
	parsed     atomic.Int64
	invalid    atomic.Int64
	filtered   atomic.Int64
	aggregated atomic.Int64

	readerProcessingUs     atomic.Int64
	parserProcessingUs     atomic.Int64
	rulesProcessingUs      atomic.Int64
	aggregatorProcessingUs atomic.Int64
	writerProcessingUs     atomic.Int64
	queueOverheadUs        atomic.Int64

	start     atomic.Int64 // UnixNano, 0 means unset
	end       atomic.Int64
	startedAt time.Time
	endedAt   time.Time
}

// MetricsSnapshot is a read-only, consistent view of a Metrics instance
// taken once after every stage has joined.
type MetricsSnapshot struct {
	ReadEvents       int64
	ParsedEvents     int64
	InvalidEvents    int64
	FilteredEvents   int64
	AggregatedEvents int64

	ReaderProcessingMs     float64
	ParserProcessingMs     float64
	RulesProcessingMs      float64
	AggregatorProcessingMs float64
	WriterProcessingMs     float64
	QueueOverheadMs        float64

	DurationSec     float64
	ThroughputPerSec float64
}

func (m *Metrics) IncrementRead()       { m.read.Add(1) }
func (m *Metrics) IncrementParsed()     { m.parsed.Add(1) }
func (m *Metrics) IncrementInvalid()    { m.invalid.Add(1) }
func (m *Metrics) IncrementFiltered()   { m.filtered.Add(1) }
func (m *Metrics) IncrementAggregated() { m.aggregated.Add(1) }

// AddReaderProcessing, AddParserProcessing, ... each add a duration to
// the corresponding per-stage accumulator. Durations are stored in
// integer microseconds so concurrent adds never contend on a float.
func (m *Metrics) AddReaderProcessing(d time.Duration)     { m.readerProcessingUs.Add(d.Microseconds()) }
func (m *Metrics) AddParserProcessing(d time.Duration)     { m.parserProcessingUs.Add(d.Microseconds()) }
func (m *Metrics) AddRulesProcessing(d time.Duration)      { m.rulesProcessingUs.Add(d.Microseconds()) }
func (m *Metrics) AddAggregatorProcessing(d time.Duration) { m.aggregatorProcessingUs.Add(d.Microseconds()) }
func (m *Metrics) AddWriterProcessing(d time.Duration)     { m.writerProcessingUs.Add(d.Microseconds()) }
func (m *Metrics) AddQueueOverhead(d time.Duration)        { m.queueOverheadUs.Add(d.Microseconds()) }

// MarkStart records the run's start instant. Call once, before any stage
// goroutine is spawned.
func (m *Metrics) MarkStart() {
	m.startedAt = time.Now()
	m.start.Store(m.startedAt.UnixNano())
}

// MarkEnd records the run's end instant. Call once, after every stage
// goroutine has been joined.
func (m *Metrics) MarkEnd() {
	m.endedAt = time.Now()
	m.end.Store(m.endedAt.UnixNano())
}

// Snapshot produces a consistent, read-only view of the current metric
// values. DurationSec and ThroughputPerSec are 0 when either mark is
// absent; ThroughputPerSec is also 0 when the measured duration is
// non-positive.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadEvents:       m.read.Load(),
		ParsedEvents:     m.parsed.Load(),
		InvalidEvents:    m.invalid.Load(),
		FilteredEvents:   m.filtered.Load(),
		AggregatedEvents: m.aggregated.Load(),

		ReaderProcessingMs:     microsToMillis(m.readerProcessingUs.Load()),
		ParserProcessingMs:     microsToMillis(m.parserProcessingUs.Load()),
		RulesProcessingMs:      microsToMillis(m.rulesProcessingUs.Load()),
		AggregatorProcessingMs: microsToMillis(m.aggregatorProcessingUs.Load()),
		WriterProcessingMs:     microsToMillis(m.writerProcessingUs.Load()),
		QueueOverheadMs:        microsToMillis(m.queueOverheadUs.Load()),
	}

	startNano := m.start.Load()
	endNano := m.end.Load()
	if startNano != 0 && endNano != 0 {
		duration := time.Duration(endNano - startNano)
		snap.DurationSec = duration.Seconds()
		if snap.DurationSec > 0 {
			snap.ThroughputPerSec = float64(snap.AggregatedEvents) / snap.DurationSec
		}
	}

	return snap
}

func microsToMillis(us int64) float64 {
	return float64(us) / 1000.0
}
