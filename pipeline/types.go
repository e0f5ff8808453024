package pipeline

import "go.uber.org/zap"

// RawEvent is one line read from the input file, tagged with its ingest
// order. Sequence starts at 0 and increases by one per successful read.
type RawEvent struct {
	RawText  string
	Sequence int64
}

// SupportedEventType enumerates the event types the parser accepts.
type SupportedEventType string

const (
	EventTypeClick    SupportedEventType = "click"
	EventTypeView     SupportedEventType = "view"
	EventTypePurchase SupportedEventType = "purchase"
)

func isSupportedEventType(t string) bool {
	switch SupportedEventType(t) {
	case EventTypeClick, EventTypeView, EventTypePurchase:
		return true
	default:
		return false
	}
}

// ParsedEvent is the result of field extraction over a RawEvent. Valid is
// false when a required field was missing or Type was unsupported; an
// invalid ParsedEvent is never pushed downstream, it only lets the
// parser count the drop.
type ParsedEvent struct {
	Type        string
	User        string
	Value       int64
	TimestampMs int64
	Sequence    int64
	Valid       bool
}

// EnrichedEvent wraps a ParsedEvent with rule metadata. Only events with
// PassedRules true are ever pushed to the aggregator.
type EnrichedEvent struct {
	Event       ParsedEvent
	Metadata    map[string]string
	PassedRules bool
}

// AggregateResult is one per distinct event type observed with
// PassedRules true, emitted once at aggregator flush.
type AggregateResult struct {
	Key   string  `json:"key"`
	Count int64   `json:"count"`
	Sum   int64   `json:"sum"`
	Avg   float64 `json:"avg"`
}

// PipelineConfig configures a single pipeline run. InputFile is required;
// the rest have defaults applied by DefaultPipelineConfig / applyDefaults.
//
// QueueSize is a *int rather than an int because its zero value is not
// "unset" — spec.md defines queue_size == 0 as an explicit request for an
// unbounded queue. A nil QueueSize means the caller never set the field at
// all, and only that case gets the 10000 default; an explicit pointer to 0
// keeps meaning unbounded all the way through applyDefaults.
type PipelineConfig struct {
	InputFile     string
	OutputFile    string
	ParserThreads int
	QueueSize     *int

	Emitter     Emitter
	ExecutionID string
	Logger      *zap.Logger
}

// DefaultPipelineConfig returns a PipelineConfig with the defaults from
// spec §6: output to aggregate-results.ndjson, one parser worker per
// logical CPU (falling back to 4), and a 10000-item queue bound.
func DefaultPipelineConfig(inputFile string) PipelineConfig {
	defaultQueueSize := 10000
	cfg := PipelineConfig{
		InputFile:     inputFile,
		OutputFile:    "aggregate-results.ndjson",
		ParserThreads: defaultParserThreads(),
		QueueSize:     &defaultQueueSize,
	}
	return cfg
}

func (c *PipelineConfig) applyDefaults() {
	if c.OutputFile == "" {
		c.OutputFile = "aggregate-results.ndjson"
	}
	if c.ParserThreads <= 0 {
		c.ParserThreads = defaultParserThreads()
	}
	if c.QueueSize == nil {
		defaultQueueSize := 10000
		c.QueueSize = &defaultQueueSize
	}
	if c.Emitter == nil {
		c.Emitter = &NoOpEmitter{}
	}
	if c.ExecutionID == "" {
		c.ExecutionID = GenerateExecutionID()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// queueSizeOrZero reports the configured queue bound, treating a nil
// QueueSize (an emitter invoked before applyDefaults ran) as unbounded
// rather than panicking.
func (c PipelineConfig) queueSizeOrZero() int {
	if c.QueueSize == nil {
		return 0
	}
	return *c.QueueSize
}
