package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"chainsentry/internal/schema"
)

// ErrProducerClosed is returned when producing after Close.
var ErrProducerClosed = fmt.Errorf("stream: alert producer is closed")

// AlertProducer publishes high-risk verdicts to the alert topic.
type AlertProducer struct {
	writer *kafka.Writer
	config Config
	closed atomic.Bool

	produced atomic.Uint64
	failures atomic.Uint64
}

// NewAlertProducer creates an alert producer.
func NewAlertProducer(cfg Config) *AlertProducer {
	return &AlertProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.AlertTopic,
			Balancer:     &kafka.LeastBytes{},
			MaxAttempts:  cfg.MaxRetries,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Lz4,
		},
		config: cfg,
	}
}

// Publish sends one verdict to the alert topic, keyed by entity reference
// so alerts for the same entity land in one partition.
func (p *AlertProducer) Publish(ctx context.Context, v *schema.ThreatDetectionResult) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal alert: %w", err)
	}

	key := v.TransactionHash
	if key == "" {
		key = v.ContractAddress
	}
	if key == "" {
		key = v.ID.String()
	}

	var lastErr error
	backoff := p.config.RetryBackoff
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  time.Now(),
		})
		if err == nil {
			p.produced.Add(1)
			return nil
		}
		lastErr = err
		slog.Warn("alert publish failed", "attempt", attempt+1, "error", err)
	}

	p.failures.Add(1)
	return fmt.Errorf("stream: alert publish failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// Stats returns producer counters.
func (p *AlertProducer) Stats() (produced, failures uint64) {
	return p.produced.Load(), p.failures.Load()
}

// Close flushes and closes the writer.
func (p *AlertProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
