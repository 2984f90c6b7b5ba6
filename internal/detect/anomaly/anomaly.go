// Package anomaly scores transactions against a trained outlier model,
// blended with deterministic heuristic sub-scores.
package anomaly

import (
	"context"
	"fmt"
	"time"

	"chainsentry/internal/detect"
	"chainsentry/internal/features"
	"chainsentry/internal/schema"
)

// Heuristic thresholds. Values are raw on-chain units (wei).
const (
	highGasPriceWei = 500e9  // 500 gwei
	lowGasPriceWei  = 1e9    // 1 gwei
	largeValueWei   = 1000e18 // 1000 ETH
)

// Detector wraps the trained outlier model. A nil model means the detector
// is unavailable and contributes nothing to fusion.
type Detector struct {
	model  detect.OutlierModel
	scaler detect.FeatureScaler
}

// New creates an anomaly detector. Pass nil model/scaler when no trained
// bundle is loaded.
func New(model detect.OutlierModel, scaler detect.FeatureScaler) *Detector {
	return &Detector{model: model, scaler: scaler}
}

// Score maps the transaction to an anomaly score in [0, 1]; higher is more
// anomalous.
//
// The model decision value and three heuristic sub-scores (gas price,
// value, timing), each in [-1, 1], are averaged with equal weight 0.25 and
// the mean x is normalized by clamp((x+1)/2, 0, 1). Both the weights and
// the mapping are fixed so scores stay comparable across calls.
func (d *Detector) Score(ctx context.Context, vec features.Vector, tx *schema.Transaction) (float64, error) {
	if d == nil || d.model == nil || d.scaler == nil {
		return 0, detect.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	raw, err := d.model.Decision(d.scaler.Transform(vec))
	if err != nil {
		return 0, fmt.Errorf("anomaly decision: %w", err)
	}
	// Outlier models emit negative values for anomalies; flip so higher
	// means more anomalous, matching the heuristic sub-scores.
	modelScore := clampSigned(-raw)

	combined := (modelScore + gasPriceOutlier(tx) + valueOutlier(tx) + timingOutlier(tx)) / 4
	return detect.Clamp01((combined + 1) / 2), nil
}

// gasPriceOutlier flags gas prices far outside the typical band. Extreme
// overpayment is the front-running/MEV signature; near-zero is typical of
// private-pool replays.
func gasPriceOutlier(tx *schema.Transaction) float64 {
	switch {
	case tx.GasPrice >= highGasPriceWei:
		return 1
	case tx.GasPrice > 0 && tx.GasPrice < lowGasPriceWei:
		return 0.5
	default:
		return -0.25
	}
}

// valueOutlier flags unusually large transfers.
func valueOutlier(tx *schema.Transaction) float64 {
	switch {
	case tx.Value >= largeValueWei:
		return 1
	case tx.Value >= largeValueWei/10:
		return 0.5
	default:
		return -0.25
	}
}

// timingOutlier flags off-hours activity (00:00-06:59 UTC).
func timingOutlier(tx *schema.Transaction) float64 {
	if tx.Timestamp <= 0 {
		return 0
	}
	hour := time.Unix(tx.Timestamp, 0).UTC().Hour()
	if hour <= 6 {
		return 0.5
	}
	return -0.25
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
