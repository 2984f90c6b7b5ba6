// Package classifier wraps the trained multi-class threat model. When no
// trained model is loaded the detector reports Unavailable and contributes
// nothing; it never synthesizes a prediction.
package classifier

import (
	"context"
	"fmt"

	"chainsentry/internal/detect"
	"chainsentry/internal/features"
	"chainsentry/internal/schema"
)

// Prediction is the classifier's output: the argmax category and its
// probability under the model.
type Prediction struct {
	Category   schema.ThreatCategory
	Confidence float64
}

// Classifier scores feature vectors against the trained model.
type Classifier struct {
	model  detect.ClassifierModel
	scaler detect.FeatureScaler
	labels []schema.ThreatCategory
}

// New creates a classifier. Pass nil model/scaler when no trained bundle
// is loaded. labels is the model's output order; nil falls back to the
// canonical category order.
func New(model detect.ClassifierModel, scaler detect.FeatureScaler, labels []schema.ThreatCategory) *Classifier {
	if labels == nil {
		labels = schema.Categories()
	}
	return &Classifier{model: model, scaler: scaler, labels: labels}
}

// Classify predicts the threat category for a feature vector.
func (c *Classifier) Classify(ctx context.Context, vec features.Vector) (*Prediction, error) {
	if c == nil || c.model == nil || c.scaler == nil {
		return nil, detect.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs, err := c.model.Probabilities(c.scaler.Transform(vec))
	if err != nil {
		return nil, fmt.Errorf("classifier inference: %w", err)
	}
	if len(probs) != len(c.labels) {
		return nil, fmt.Errorf("classifier emitted %d probabilities for %d labels", len(probs), len(c.labels))
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	return &Prediction{
		Category:   c.labels[best],
		Confidence: detect.Clamp01(probs[best]),
	}, nil
}
