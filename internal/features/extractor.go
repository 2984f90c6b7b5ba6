// Package features turns raw entities into the fixed-shape numeric vectors
// the trained models consume. The vector length and field order are part of
// the contract with a trained model version and must never change without
// retraining.
package features

import (
	"fmt"
	"time"

	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// SchemaVersion identifies the transaction feature layout. A trained model
// bundle declares the feature schema it was fit against; mismatches are
// rejected at load time.
const SchemaVersion = "tx-v2"

// Feature indices. Order is load-bearing.
const (
	FeatValue        = 0 // transaction value, wei
	FeatGas          = 1 // gas limit
	FeatGasPrice     = 2 // gas price, wei
	FeatInputLen     = 3 // input payload length, bytes of hex string
	FeatFromKnownBad = 4 // 1 if sender is in the known-bad set
	FeatToKnownBad   = 5 // 1 if recipient is in the known-bad set
	FeatHourOfDay    = 6 // UTC hour 0-23
	FeatOffHours     = 7 // 1 if hour in [0,6]; 0 when the timestamp is missing

	// Count is the fixed vector length for SchemaVersion.
	Count = 8
)

// Vector is a fixed-order transaction feature vector.
type Vector []float64

// FeatureError reports structurally invalid entity data. Suspicious but
// well-formed content never produces a FeatureError; that is a scoring
// concern.
type FeatureError struct {
	Field  string
	Reason string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Extract builds the feature vector for a transaction. It is a pure
// function of the transaction fields and the given known-bad snapshot:
// retrying without a snapshot refresh reproduces an identical vector.
// Missing numeric fields contribute 0 and missing addresses contribute
// cleared flags; a nil snapshot clears both known-bad flags.
func Extract(tx *schema.Transaction, known *knownbad.Set) (Vector, error) {
	if tx == nil {
		return nil, &FeatureError{Field: "transaction", Reason: "missing"}
	}
	if tx.Value < 0 {
		return nil, &FeatureError{Field: "value", Reason: "negative"}
	}
	if tx.Gas < 0 {
		return nil, &FeatureError{Field: "gas", Reason: "negative"}
	}
	if tx.GasPrice < 0 {
		return nil, &FeatureError{Field: "gasPrice", Reason: "negative"}
	}
	if tx.Timestamp < 0 {
		return nil, &FeatureError{Field: "timestamp", Reason: "before epoch"}
	}

	v := make(Vector, Count)
	v[FeatValue] = tx.Value
	v[FeatGas] = tx.Gas
	v[FeatGasPrice] = tx.GasPrice
	v[FeatInputLen] = float64(len(tx.Input))

	if known.Contains(tx.From) {
		v[FeatFromKnownBad] = 1
	}
	if known.Contains(tx.To) {
		v[FeatToKnownBad] = 1
	}

	// A zero timestamp is a missing field: hour and off-hours stay zero.
	// Unknown time must not read as midnight activity.
	if tx.Timestamp > 0 {
		hour := time.Unix(tx.Timestamp, 0).UTC().Hour()
		v[FeatHourOfDay] = float64(hour)
		if hour <= 6 {
			v[FeatOffHours] = 1
		}
	}

	return v, nil
}
