// Package detect defines the contracts shared by the signal detectors.
// Each detector produces a normalized score independently; a detector that
// cannot run reports ErrUnavailable, which fusion treats as absence, never
// as a score of zero.
package detect

import "errors"

// ErrUnavailable marks a detector that cannot contribute: no trained model
// loaded, or an external source not configured. It is a soft state, not a
// failure.
var ErrUnavailable = errors.New("detector unavailable")

// OutlierModel is the decision function of a trained outlier model. The
// raw decision value is negative for anomalous inputs and positive for
// inliers, in roughly [-1, 1].
type OutlierModel interface {
	Decision(features []float32) (float64, error)
}

// ClassifierModel is a trained multi-class model producing one probability
// per category, in the fixed category order.
type ClassifierModel interface {
	Probabilities(features []float32) ([]float64, error)
}

// FeatureScaler normalizes a raw feature vector the same way the model's
// training data was normalized. Scaler and model are paired by version.
type FeatureScaler interface {
	Transform(features []float64) []float32
}

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
