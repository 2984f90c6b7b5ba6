package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chainsentry/internal/schema"
)

// BatchWriterConfig holds configuration for the verdict batch writer.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultBatchWriterConfig returns the default batch writer configuration.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// BatchWriter buffers verdicts and flushes them to ClickHouse in batches,
// on size or on a timer, with linear-backoff retries.
type BatchWriter struct {
	client *ClickHouseClient
	config BatchWriterConfig

	buffer []*schema.ThreatDetectionResult
	mu     sync.Mutex

	flushTimer *time.Timer
	closed     bool

	written atomic.Uint64
	failed  atomic.Uint64
	batches atomic.Uint64
}

// NewBatchWriter creates a batch writer and starts its flush timer.
func NewBatchWriter(client *ClickHouseClient, cfg BatchWriterConfig) *BatchWriter {
	bw := &BatchWriter{
		client: client,
		config: cfg,
		buffer: make([]*schema.ThreatDetectionResult, 0, cfg.BatchSize),
	}
	bw.flushTimer = time.AfterFunc(cfg.FlushInterval, bw.timerFlush)
	return bw
}

// Write buffers a verdict, flushing if the batch is full.
func (bw *BatchWriter) Write(v *schema.ThreatDetectionResult) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return ErrWriterClosed
	}
	bw.buffer = append(bw.buffer, v)
	if len(bw.buffer) >= bw.config.BatchSize {
		return bw.flushLocked()
	}
	return nil
}

func (bw *BatchWriter) timerFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return
	}
	if len(bw.buffer) > 0 {
		if err := bw.flushLocked(); err != nil {
			slog.Error("verdict flush failed", "error", err)
		}
	}
	bw.flushTimer.Reset(bw.config.FlushInterval)
}

// flushLocked flushes the buffer with retries. Caller holds the lock.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.buffer) == 0 {
		return nil
	}

	verdicts := bw.buffer
	bw.buffer = make([]*schema.ThreatDetectionResult, 0, bw.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bw.config.RetryDelay * time.Duration(attempt))
		}
		if err := bw.insertBatch(verdicts); err != nil {
			lastErr = err
			slog.Warn("verdict batch insert failed",
				"attempt", attempt+1,
				"max_retries", bw.config.MaxRetries,
				"error", err,
			)
			continue
		}
		bw.written.Add(uint64(len(verdicts)))
		bw.batches.Add(1)
		return nil
	}

	bw.failed.Add(uint64(len(verdicts)))
	return &StorageError{
		Op:      "Insert",
		Table:   "verdicts",
		Err:     fmt.Errorf("%w: %v", ErrBatchInsertFailed, lastErr),
		Retries: bw.config.MaxRetries,
	}
}

func (bw *BatchWriter) insertBatch(verdicts []*schema.ThreatDetectionResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := bw.client.PrepareBatch(ctx, `
		INSERT INTO verdicts (
			id, entity_type, threat_type, confidence, risk_score,
			evidence, timestamp, transaction_hash, contract_address,
			affected_addresses
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, v := range verdicts {
		err := batch.Append(
			v.ID,
			string(v.EntityType),
			string(v.ThreatType),
			v.Confidence,
			uint8(v.RiskScore),
			v.Evidence,
			v.Timestamp,
			v.TransactionHash,
			v.ContractAddress,
			v.AffectedAddresses,
		)
		if err != nil {
			return fmt.Errorf("append verdict: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Flush forces a flush of the current buffer.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// Close stops the timer and flushes the remaining buffer.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.flushTimer.Stop()
	err := bw.flushLocked()
	bw.closed = true
	bw.mu.Unlock()
	return err
}

// Metrics holds batch writer counters.
type Metrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}

// Metrics returns a snapshot of the writer counters.
func (bw *BatchWriter) Metrics() Metrics {
	bw.mu.Lock()
	pending := len(bw.buffer)
	bw.mu.Unlock()
	return Metrics{
		Written: bw.written.Load(),
		Failed:  bw.failed.Load(),
		Batches: bw.batches.Load(),
		Pending: pending,
	}
}
