package storage

import (
	"errors"
	"testing"
	"time"

	"chainsentry/internal/schema"
)

func testVerdict() *schema.ThreatDetectionResult {
	return schema.NewResult(schema.EntityURL, schema.CategoryPhishing, 0.9, []string{"test"})
}

func TestBatchWriterBuffersBelowBatchSize(t *testing.T) {
	bw := NewBatchWriter(nil, BatchWriterConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	})
	defer bw.flushTimer.Stop()

	for i := 0; i < 9; i++ {
		if err := bw.Write(testVerdict()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	m := bw.Metrics()
	if m.Pending != 9 || m.Written != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestBatchWriterClosedRejectsWrites(t *testing.T) {
	bw := NewBatchWriter(nil, BatchWriterConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	// Empty buffer: Close flushes nothing and needs no connection.
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bw.Write(testVerdict()); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDefaultConfigs(t *testing.T) {
	ch := DefaultClickHouseConfig()
	if ch.Database != "chainsentry" || len(ch.Hosts) == 0 {
		t.Fatalf("clickhouse defaults = %+v", ch)
	}
	bw := DefaultBatchWriterConfig()
	if bw.BatchSize <= 0 || bw.FlushInterval <= 0 || bw.MaxRetries <= 0 {
		t.Fatalf("batch writer defaults = %+v", bw)
	}
}
