package features

import (
	"errors"
	"reflect"
	"testing"

	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

const badAddr = "0x1234567890abcdef1234567890abcdef12345678"

func TestExtractFieldOrder(t *testing.T) {
	known := knownbad.NewSet([]string{badAddr})
	tx := &schema.Transaction{
		Hash:      "0xfeed",
		From:      badAddr,
		To:        "0x6666666666666666666666666666666666666666",
		Value:     1e18,
		Gas:       21000,
		GasPrice:  30e9,
		Input:     "0xa9059cbb",
		Timestamp: 1700000000, // 2023-11-14 22:13:20 UTC
	}

	vec, err := Extract(tx, known)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(vec) != Count {
		t.Fatalf("vector length = %d, want %d", len(vec), Count)
	}

	want := Vector{1e18, 21000, 30e9, 10, 1, 0, 22, 0}
	if !reflect.DeepEqual(vec, want) {
		t.Fatalf("vector = %v, want %v", vec, want)
	}
}

func TestExtractDeterministic(t *testing.T) {
	known := knownbad.NewSet([]string{badAddr})
	tx := &schema.Transaction{From: badAddr, Value: 5e17, Timestamp: 1700000000}

	first, err := Extract(tx, known)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Extract(tx, known)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestExtractOffHours(t *testing.T) {
	// 2023-11-15 03:00:00 UTC.
	tx := &schema.Transaction{Timestamp: 1700017200}
	vec, err := Extract(tx, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if vec[FeatHourOfDay] != 3 {
		t.Errorf("hour = %v, want 3", vec[FeatHourOfDay])
	}
	if vec[FeatOffHours] != 1 {
		t.Errorf("off-hours flag not set for 03:00 UTC")
	}
}

func TestExtractMissingFieldsZero(t *testing.T) {
	vec, err := Extract(&schema.Transaction{}, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// Zero timestamp is unknown time: the off-hours flag must stay
	// clear rather than reading as midnight activity.
	want := Vector{0, 0, 0, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(vec, want) {
		t.Fatalf("vector = %v, want %v", vec, want)
	}
}

func TestExtractNilSnapshotClearsFlags(t *testing.T) {
	tx := &schema.Transaction{From: badAddr, To: badAddr}
	vec, err := Extract(tx, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if vec[FeatFromKnownBad] != 0 || vec[FeatToKnownBad] != 0 {
		t.Fatalf("nil snapshot must clear known-bad flags: %v", vec)
	}
}

func TestExtractRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		tx    *schema.Transaction
		field string
	}{
		{"nil transaction", nil, "transaction"},
		{"negative value", &schema.Transaction{Value: -1}, "value"},
		{"negative gas", &schema.Transaction{Gas: -1}, "gas"},
		{"negative gas price", &schema.Transaction{GasPrice: -1}, "gasPrice"},
		{"pre-epoch timestamp", &schema.Transaction{Timestamp: -5}, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.tx, nil)
			var fe *FeatureError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want FeatureError", err)
			}
			if fe.Field != tt.field {
				t.Errorf("field = %q, want %q", fe.Field, tt.field)
			}
		})
	}
}
