package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"chainsentry/internal/analyzer"
	"chainsentry/internal/detect/anomaly"
	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/queue"
	"chainsentry/internal/schema"
)

const drainerAddr = "0x1234567890abcdef1234567890abcdef12345678"

type captureAlerter struct {
	mu     sync.Mutex
	alerts []*schema.ThreatDetectionResult
}

func (a *captureAlerter) Publish(ctx context.Context, v *schema.ThreatDetectionResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, v)
	return nil
}

func (a *captureAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func newPipeline(t *testing.T, threshold int) (*Pipeline, *queue.RingBuffer, *captureAlerter) {
	t.Helper()
	store := knownbad.NewStore()
	store.Swap(knownbad.NewSet([]string{drainerAddr}))
	svc := analyzer.NewService(slog.Default(), store, anomaly.New(nil, nil), classifier.New(nil, nil, nil), nil, nil)

	q := queue.NewRingBuffer(16)
	alerts := &captureAlerter{}
	return NewPipeline(svc, q, alerts, threshold), q, alerts
}

func txMessage(t *testing.T, tx *schema.Transaction) []byte {
	t.Helper()
	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	return b
}

func TestPipelineRoutesHighRiskToAlerts(t *testing.T) {
	p, q, alerts := newPipeline(t, 10)

	msg := txMessage(t, &schema.Transaction{
		Hash:      "0xfeed",
		From:      drainerAddr,
		To:        "0x6666666666666666666666666666666666666666",
		Timestamp: 1700000000,
	})
	if err := p.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	if alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.count())
	}
	if alerts.alerts[0].ThreatType != schema.CategoryScamToken {
		t.Fatalf("alert category = %s", alerts.alerts[0].ThreatType)
	}

	handled, alerted, invalid := p.Stats()
	if handled != 1 || alerted != 1 || invalid != 0 {
		t.Fatalf("stats = %d/%d/%d", handled, alerted, invalid)
	}
}

func TestPipelineLowRiskNotAlerted(t *testing.T) {
	p, q, alerts := newPipeline(t, 10)

	msg := txMessage(t, &schema.Transaction{
		Hash:      "0xclean",
		From:      "0x1111111111111111111111111111111111111111",
		To:        "0x2222222222222222222222222222222222222222",
		Timestamp: 1700000000,
	})
	if err := p.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("verdict not queued, length = %d", q.Len())
	}
	if alerts.count() != 0 {
		t.Fatalf("clean transaction produced %d alerts", alerts.count())
	}
}

func TestPipelineDropsMalformedMessage(t *testing.T) {
	p, q, alerts := newPipeline(t, 10)

	if err := p.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed message must be dropped, not retried: %v", err)
	}

	if q.Len() != 0 {
		t.Fatalf("queue length = %d, want 0", q.Len())
	}
	if alerts.count() != 0 {
		t.Fatalf("alerts = %d, want 0", alerts.count())
	}
	if _, _, invalid := p.Stats(); invalid != 1 {
		t.Fatalf("invalid = %d, want 1", invalid)
	}
}

func TestPipelineNilAlerterSkipsRouting(t *testing.T) {
	store := knownbad.NewStore()
	store.Swap(knownbad.NewSet([]string{drainerAddr}))
	svc := analyzer.NewService(slog.Default(), store, anomaly.New(nil, nil), classifier.New(nil, nil, nil), nil, nil)
	q := queue.NewRingBuffer(4)
	p := NewPipeline(svc, q, nil, 0)

	msg := txMessage(t, &schema.Transaction{
		Hash:      "0xfeed",
		From:      drainerAddr,
		To:        "0x6666666666666666666666666666666666666666",
		Timestamp: 1700000000,
	})
	if err := p.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle without alerter: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
}
