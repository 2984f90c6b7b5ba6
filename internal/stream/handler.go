package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"chainsentry/internal/analyzer"
	"chainsentry/internal/queue"
	"chainsentry/internal/schema"
)

// Alerter publishes high-risk verdicts. Satisfied by AlertProducer.
type Alerter interface {
	Publish(ctx context.Context, v *schema.ThreatDetectionResult) error
}

// Pipeline turns raw transaction messages into queued verdicts and alerts.
type Pipeline struct {
	service   *analyzer.Service
	verdicts  *queue.RingBuffer
	alerts    Alerter
	threshold int

	handled uint64
	alerted uint64
	invalid uint64
}

// NewPipeline creates the stream pipeline. alerts may be nil to disable
// alert routing.
func NewPipeline(service *analyzer.Service, verdicts *queue.RingBuffer, alerts Alerter, threshold int) *Pipeline {
	return &Pipeline{
		service:   service,
		verdicts:  verdicts,
		alerts:    alerts,
		threshold: threshold,
	}
}

// Handle processes one raw transaction message. A malformed message is
// counted and dropped, not retried; an analysis error is final for the
// message too since replaying it would fail identically.
func (p *Pipeline) Handle(ctx context.Context, value []byte) error {
	var tx schema.Transaction
	if err := json.Unmarshal(value, &tx); err != nil {
		atomic.AddUint64(&p.invalid, 1)
		slog.Warn("dropping malformed transaction message", "error", err)
		return nil
	}

	res, err := p.service.Detect(ctx, &schema.DetectRequest{
		Type: schema.EntityTransaction,
		Data: &tx,
	})
	if err != nil {
		atomic.AddUint64(&p.invalid, 1)
		slog.Warn("dropping invalid transaction message", "error", err)
		return nil
	}
	atomic.AddUint64(&p.handled, 1)

	if err := p.verdicts.Push(res); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			slog.Warn("verdict queue full, dropping verdict", "verdict_id", res.ID)
		} else {
			return fmt.Errorf("queue verdict: %w", err)
		}
	}

	if p.alerts != nil && res.RiskScore >= p.threshold {
		if err := p.alerts.Publish(ctx, res); err != nil {
			return fmt.Errorf("publish alert: %w", err)
		}
		atomic.AddUint64(&p.alerted, 1)
	}
	return nil
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() (handled, alerted, invalid uint64) {
	return atomic.LoadUint64(&p.handled), atomic.LoadUint64(&p.alerted), atomic.LoadUint64(&p.invalid)
}
