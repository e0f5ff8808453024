package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineMetric is one row of pipeline_metrics.pipeline_executions.
type PipelineMetric struct {
	ExecutionID     string     `json:"execution_id"`
	PipelineType    string     `json:"pipeline_type"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMs      *uint64    `json:"duration_ms,omitempty"`
	InputCount      *uint64    `json:"input_count,omitempty"`
	OutputCount     *uint64    `json:"output_count,omitempty"`
	ConfigWorkers   uint32     `json:"config_workers"`
	ConfigQueueSize uint32     `json:"config_queue_size"`
	Status          string     `json:"status"` // "started", "completed"
}

// StageMetric is one row of pipeline_metrics.stage_metrics. Each of the
// reader/rules/aggregator/writer stages writes a "started" and a
// "completed" row per run with StageIndex 0; every parser worker writes
// its own pair, with StageIndex set to the worker's index.
type StageMetric struct {
	ExecutionID   string     `json:"execution_id"`
	StageName     string     `json:"stage_name"`
	StageIndex    uint32     `json:"stage_index"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	DurationMs    *uint64    `json:"duration_ms,omitempty"`
	InputEvents   *uint64    `json:"input_events,omitempty"`
	OutputEvents  *uint64    `json:"output_events,omitempty"`
	ThroughputEPS *float64   `json:"throughput_eps,omitempty"`
	Status        string     `json:"status"` // "started", "completed"
}

// BatchMetric is one row of pipeline_metrics.batch_metrics, emitted
// periodically by a parser worker rather than per record.
type BatchMetric struct {
	ExecutionID      string    `json:"execution_id"`
	StageName        string    `json:"stage_name"`
	BatchID          string    `json:"batch_id"`
	WorkerID         string    `json:"worker_id"`
	BatchSize        uint32    `json:"batch_size"`
	ProcessingTimeMs uint64    `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// ErrorMetric is one row of pipeline_metrics.error_metrics.
type ErrorMetric struct {
	ExecutionID string    `json:"execution_id"`
	StageName   string    `json:"stage_name"`
	ErrorMsg    string    `json:"error_msg"`
	Timestamp   time.Time `json:"timestamp"`
}

// ObservabilityConfig configures the ClickHouseEmitter. When Enabled is
// false, NewClickHouseEmitter returns a closed emitter that drops
// everything, so wiring it into a PipelineConfig is always safe.
type ObservabilityConfig struct {
	Enabled       bool
	Addr          string
	Database      string
	Username      string
	Password      string
	BufferSize    int
	FlushInterval time.Duration
	Debug         bool
}

// ClickHouseEmitter asynchronously collects pipeline metrics and writes
// them to ClickHouse. It uses buffered channels and background workers
// so it never blocks the pipeline it is observing. All four metric
// kinds (pipeline/stage/batch/error) share one generic batching worker
// (see processMetricBatch/flushMetricBatch below); only the insert SQL
// and row-append function differ per kind.
type ClickHouseEmitter struct {
	config ObservabilityConfig
	conn   driver.Conn
	logger *zap.Logger

	pipelineChan chan PipelineMetric
	stageChan    chan StageMetric
	batchChan    chan BatchMetric
	errorChan    chan ErrorMetric

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func connectClickHouse(cfg ObservabilityConfig) (driver.Conn, error) {
	ctx := context.Background()
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "eventpipe", Version: "0.1"},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			return nil, fmt.Errorf("clickhouse: ping failed [%d] %s", exception.Code, exception.Message)
		}
		return nil, fmt.Errorf("clickhouse: ping failed: %w", err)
	}
	return conn, nil
}

// NewClickHouseEmitter constructs a ClickHouseEmitter and starts the
// background flush goroutines. Passing a nil logger disables logging.
func NewClickHouseEmitter(cfg ObservabilityConfig, logger *zap.Logger) (*ClickHouseEmitter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &ClickHouseEmitter{config: cfg, closed: true, logger: logger}, nil
	}

	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	conn, err := connectClickHouse(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	emitter := &ClickHouseEmitter{
		config:       cfg,
		conn:         conn,
		logger:       logger,
		pipelineChan: make(chan PipelineMetric, cfg.BufferSize),
		stageChan:    make(chan StageMetric, cfg.BufferSize),
		batchChan:    make(chan BatchMetric, cfg.BufferSize),
		errorChan:    make(chan ErrorMetric, cfg.BufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	emitter.startBackgroundProcessors()
	return emitter, nil
}

const (
	pipelineInsertSQL = `INSERT INTO pipeline_metrics.pipeline_executions (
		execution_id, pipeline_type, start_time, end_time, duration_ms,
		input_count, output_count, config_workers, config_queue_size, status
	) VALUES`

	stageInsertSQL = `INSERT INTO pipeline_metrics.stage_metrics (
		execution_id, stage_name, stage_index, start_time, end_time,
		duration_ms, input_events, output_events, throughput_eps, status
	) VALUES`

	batchInsertSQL = `INSERT INTO pipeline_metrics.batch_metrics (
		execution_id, stage_name, batch_id, worker_id, batch_size, processing_time_ms, timestamp
	) VALUES`

	errorInsertSQL = `INSERT INTO pipeline_metrics.error_metrics (
		execution_id, stage_name, error_message, timestamp
	) VALUES`
)

func appendPipelineMetric(b driver.Batch, m PipelineMetric) error {
	return b.Append(m.ExecutionID, m.PipelineType, m.StartTime, m.EndTime, m.DurationMs,
		m.InputCount, m.OutputCount, m.ConfigWorkers, m.ConfigQueueSize, m.Status)
}

func appendStageMetric(b driver.Batch, m StageMetric) error {
	return b.Append(m.ExecutionID, m.StageName, m.StageIndex, m.StartTime, m.EndTime,
		m.DurationMs, m.InputEvents, m.OutputEvents, m.ThroughputEPS, m.Status)
}

func appendBatchMetric(b driver.Batch, m BatchMetric) error {
	return b.Append(m.ExecutionID, m.StageName, m.BatchID, m.WorkerID, m.BatchSize, m.ProcessingTimeMs, m.Timestamp)
}

func appendErrorMetric(b driver.Batch, m ErrorMetric) error {
	return b.Append(m.ExecutionID, m.StageName, m.ErrorMsg, m.Timestamp)
}

// startBackgroundProcessors spawns one generic batching worker per
// metric kind. Each worker accumulates into its own buffer, flushing on
// BufferSize, on FlushInterval, or on shutdown — the same policy for all
// four kinds, parameterized by channel, insert SQL, and row-append func
// rather than duplicated per kind.
func (e *ClickHouseEmitter) startBackgroundProcessors() {
	e.wg.Add(4)
	go processMetricBatch(e, e.pipelineChan, pipelineInsertSQL, appendPipelineMetric, "pipeline")
	go processMetricBatch(e, e.stageChan, stageInsertSQL, appendStageMetric, "stage")
	go processMetricBatch(e, e.batchChan, batchInsertSQL, appendBatchMetric, "batch")
	go processMetricBatch(e, e.errorChan, errorInsertSQL, appendErrorMetric, "error")
}

// processMetricBatch drains ch into an in-memory slice, flushing it via
// flushMetricBatch whenever the slice reaches e.config.BufferSize, on
// every FlushInterval tick, and once more on shutdown. Go methods can't
// carry their own type parameters, so this and flushMetricBatch are
// free functions taking the emitter explicitly.
func processMetricBatch[T any](e *ClickHouseEmitter, ch <-chan T, insertSQL string, appendFn func(driver.Batch, T) error, kind string) {
	defer e.wg.Done()

	var batch []T
	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		flushMetricBatch(e, insertSQL, batch, appendFn, kind)
		batch = nil
	}

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, m)
			if len(batch) >= e.config.BufferSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.ctx.Done():
			for m := range ch {
				batch = append(batch, m)
			}
			flush()
			return
		}
	}
}

func flushMetricBatch[T any](e *ClickHouseEmitter, insertSQL string, metrics []T, appendFn func(driver.Batch, T) error, kind string) {
	ctx := context.Background()
	batch, err := e.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		e.logger.Error("clickhouse: prepare metrics batch", zap.String("kind", kind), zap.Error(err))
		return
	}
	for _, m := range metrics {
		if err := appendFn(batch, m); err != nil {
			e.logger.Error("clickhouse: append metric", zap.String("kind", kind), zap.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		e.logger.Error("clickhouse: send metrics batch", zap.String("kind", kind), zap.Error(err))
	}
}

// EmitPipelineStart records the start of a pipeline execution. Non-
// blocking: drops the metric if the buffer is full.
func (e *ClickHouseEmitter) EmitPipelineStart(executionID, pipelineType string, config PipelineConfig) {
	if e.closed {
		return
	}

	metric := PipelineMetric{
		ExecutionID:     executionID,
		PipelineType:    pipelineType,
		StartTime:       time.Now(),
		ConfigWorkers:   uint32(config.ParserThreads),
		ConfigQueueSize: uint32(config.queueSizeOrZero()),
		Status:          "started",
	}

	select {
	case e.pipelineChan <- metric:
	default:
		e.logDropped("pipeline")
	}
}

// EmitPipelineEnd records the completion of a pipeline execution.
func (e *ClickHouseEmitter) EmitPipelineEnd(executionID string, inputCount, outputCount uint64, duration time.Duration) {
	if e.closed {
		return
	}

	endTime := time.Now()
	durationMs := uint64(duration.Milliseconds())

	metric := PipelineMetric{
		ExecutionID: executionID,
		EndTime:     &endTime,
		DurationMs:  &durationMs,
		InputCount:  &inputCount,
		OutputCount: &outputCount,
		Status:      "completed",
	}

	select {
	case e.pipelineChan <- metric:
	default:
		e.logDropped("pipeline")
	}
}

// EmitStageStart records the start of one stage.
func (e *ClickHouseEmitter) EmitStageStart(executionID, stageName string, stageIndex uint32) {
	if e.closed {
		return
	}

	metric := StageMetric{
		ExecutionID: executionID,
		StageName:   stageName,
		StageIndex:  stageIndex,
		StartTime:   time.Now(),
		Status:      "started",
	}

	select {
	case e.stageChan <- metric:
	default:
		e.logDropped("stage")
	}
}

// EmitStageEnd records the completion of one stage, including throughput.
func (e *ClickHouseEmitter) EmitStageEnd(executionID, stageName string, inputCount, outputCount uint64, duration time.Duration) {
	if e.closed {
		return
	}

	endTime := time.Now()
	durationMs := uint64(duration.Milliseconds())
	throughput := 0.0
	if duration.Seconds() > 0 {
		throughput = float64(outputCount) / duration.Seconds()
	}

	metric := StageMetric{
		ExecutionID:   executionID,
		StageName:     stageName,
		EndTime:       &endTime,
		DurationMs:    &durationMs,
		InputEvents:   &inputCount,
		OutputEvents:  &outputCount,
		ThroughputEPS: &throughput,
		Status:        "completed",
	}

	select {
	case e.stageChan <- metric:
	default:
		e.logDropped("stage")
	}
}

// EmitBatchMetrics records a periodic progress checkpoint for one worker.
func (e *ClickHouseEmitter) EmitBatchMetrics(executionID, stageName, batchID, workerID string, batchSize uint32, processingTime time.Duration) {
	if e.closed {
		return
	}

	metric := BatchMetric{
		ExecutionID:      executionID,
		StageName:        stageName,
		BatchID:          batchID,
		WorkerID:         workerID,
		BatchSize:        batchSize,
		ProcessingTimeMs: uint64(processingTime.Milliseconds()),
		Timestamp:        time.Now(),
	}

	select {
	case e.batchChan <- metric:
	default:
		e.logDropped("batch")
	}
}

// EmitError records an error observed during pipeline execution.
func (e *ClickHouseEmitter) EmitError(executionID, stageName, errorMsg string) {
	if e.closed {
		return
	}

	metric := ErrorMetric{
		ExecutionID: executionID,
		StageName:   stageName,
		ErrorMsg:    errorMsg,
		Timestamp:   time.Now(),
	}

	select {
	case e.errorChan <- metric:
	default:
		e.logDropped("error")
	}
}

func (e *ClickHouseEmitter) logDropped(kind string) {
	if e.config.Debug {
		e.logger.Warn("emitter: metric channel full, dropping metric", zap.String("kind", kind))
	}
}

// Close gracefully shuts down the ClickHouseEmitter: stops the
// background processors, flushing whatever is buffered, and closes the
// database connection. Safe to call more than once.
func (e *ClickHouseEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true
	e.cancel()
	close(e.pipelineChan)
	close(e.stageChan)
	close(e.batchChan)
	close(e.errorChan)
	e.wg.Wait()

	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// GenerateExecutionID creates a new UUID string identifying one pipeline
// run.
func GenerateExecutionID() string {
	return uuid.New().String()
}

// GenerateBatchID creates a shortened UUID for labeling a worker's
// progress checkpoint.
func GenerateBatchID() string {
	return uuid.New().String()[:8]
}
