// Package consumer drains the verdict queue into the audit store.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chainsentry/internal/queue"
	"chainsentry/internal/schema"
)

// Sink receives drained verdicts. The ClickHouse batch writer is the
// production sink; DiscardSink serves deployments without storage.
type Sink interface {
	Write(v *schema.ThreatDetectionResult) error
	Flush() error
}

// DiscardSink drops verdicts. Used when the audit store is disabled so the
// pipeline still drains the queue.
type DiscardSink struct{}

func (DiscardSink) Write(v *schema.ThreatDetectionResult) error { return nil }
func (DiscardSink) Flush() error                                { return nil }

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads verdicts from the queue and writes them to the sink.
type Consumer struct {
	queue  *queue.RingBuffer
	sink   Sink
	config Config

	wg   sync.WaitGroup
	done chan struct{}

	consumed atomic.Uint64
	errors   atomic.Uint64
}

// New creates a consumer.
func New(q *queue.RingBuffer, sink Sink, cfg Config) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Consumer{
		queue:  q,
		sink:   sink,
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Start launches the consumer workers.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	slog.Info("verdict consumer started", "workers", c.config.Workers)
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
			v, err := c.queue.PopWithTimeout(c.config.PollInterval)
			if err != nil {
				if errors.Is(err, queue.ErrQueueEmpty) {
					continue
				}
				if errors.Is(err, queue.ErrQueueClosed) {
					return
				}
				slog.Warn("unexpected queue error", "worker_id", id, "error", err)
				c.errors.Add(1)
				continue
			}

			if err := c.sink.Write(v); err != nil {
				slog.Error("failed to store verdict", "worker_id", id, "verdict_id", v.ID, "error", err)
				c.errors.Add(1)
				continue
			}
			c.consumed.Add(1)
		}
	}
}

// Stop stops the workers, waits up to ShutdownWait, and flushes the sink.
func (c *Consumer) Stop() {
	close(c.done)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("verdict consumer stopped")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("verdict consumer shutdown timed out")
	}

	if err := c.sink.Flush(); err != nil {
		slog.Error("final verdict flush failed", "error", err)
	}
}

// Metrics holds consumer counters.
type Metrics struct {
	Consumed uint64 `json:"consumed"`
	Errors   uint64 `json:"errors"`
}

// Metrics returns a snapshot of the consumer counters.
func (c *Consumer) Metrics() Metrics {
	return Metrics{
		Consumed: c.consumed.Load(),
		Errors:   c.errors.Load(),
	}
}
