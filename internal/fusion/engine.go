// Package fusion combines the independent detector signals into one
// verdict. Fusion is deterministic: identical signal sets always produce
// identical confidence, category and evidence, so verdicts can be compared
// across runs and replayed from stored signals.
package fusion

import (
	"fmt"

	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/schema"
)

// Base signal weights. They are renormalized over whichever detectors are
// available, so a missing detector redistributes its weight proportionally
// instead of dragging the score toward zero.
const (
	WeightAnomaly    = 0.3
	WeightPatterns   = 0.4
	WeightClassifier = 0.3
)

// Anomaly score above which fusion treats the transaction shape itself as
// the dominant signal.
const anomalyDominantThreshold = 0.8

// Signal is one detector's contribution. Available is false when the
// detector reported it could not run; its weight then redistributes.
type Signal struct {
	Score     float64
	Available bool
}

// Inputs carries all detector outputs for one entity. Nil pointers mean
// the corresponding detector did not run.
type Inputs struct {
	Anomaly    Signal
	Patterns   *pattern.Result
	Classifier *classifier.Prediction
	Intel      *intel.Report
}

// Engine fuses detector signals. It is stateless and safe for concurrent
// use.
type Engine struct{}

// NewEngine creates a fusion engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Fuse produces the verdict for one entity from its detector signals.
//
// Confidence is the weighted mean over available signals with weights
// renormalized to sum to one. The threat-intel boost is applied afterwards
// on the risk-score scale and confidence is re-derived from the boosted
// score, preserving risk == round(confidence*100).
func (e *Engine) Fuse(entity schema.EntityType, in Inputs) *schema.ThreatDetectionResult {
	var weightSum, scoreSum float64

	if in.Anomaly.Available {
		weightSum += WeightAnomaly
		scoreSum += WeightAnomaly * in.Anomaly.Score
	}
	if in.Patterns != nil {
		weightSum += WeightPatterns
		scoreSum += WeightPatterns * in.Patterns.Matches.Score()
	}
	if in.Classifier != nil {
		weightSum += WeightClassifier
		scoreSum += WeightClassifier * in.Classifier.Confidence
	}

	var confidence float64
	if weightSum > 0 {
		confidence = scoreSum / weightSum
	}

	category := e.category(in)
	evidence := e.evidence(in)

	// Intel boost lands on the risk scale, then confidence is re-derived
	// so the two stay consistent.
	risk := schema.RiskScoreFor(confidence)
	if in.Intel != nil && in.Intel.Boost > 0 {
		risk += in.Intel.Boost
		if risk > 100 {
			risk = 100
		}
		confidence = float64(risk) / 100
	}

	if confidence > 0 && len(evidence) == 0 {
		evidence = append(evidence, fmt.Sprintf("combined detector confidence %.2f with no single dominant signal", confidence))
	}

	return schema.NewResult(entity, category, confidence, evidence)
}

// category resolves the threat category by signal precedence: known-bad
// membership, then phishing pattern hits, then a dominant anomaly score,
// then the classifier's prediction, then the generic fallback.
func (e *Engine) category(in Inputs) schema.ThreatCategory {
	if in.Patterns != nil && len(in.Patterns.KnownBadHits) > 0 {
		return schema.CategoryScamToken
	}
	if in.Patterns != nil {
		m := in.Patterns.Matches
		if m[pattern.CatPhishingPatterns] > 0 {
			return schema.CategoryPhishing
		}
		if m[pattern.CatFlashLoanPatterns] > 0 {
			return schema.CategoryFlashLoanAttack
		}
		if m[pattern.CatMEVPatterns] > 0 {
			return schema.CategoryMEVAttack
		}
		if m[pattern.CatHoneypotIndicators] > 0 {
			return schema.CategoryHoneypot
		}
	}
	if in.Anomaly.Available && in.Anomaly.Score > anomalyDominantThreshold {
		return schema.CategoryMaliciousContract
	}
	if in.Classifier != nil {
		return in.Classifier.Category
	}
	return schema.CategorySocialEngineering
}

// evidence renders the signal set in fixed order: known-bad hits, pattern
// matches and degradation notes, strong anomaly and classifier signals,
// then intel indicators and outages.
func (e *Engine) evidence(in Inputs) []string {
	var out []string

	if in.Patterns != nil {
		for _, hit := range in.Patterns.KnownBadHits {
			out = append(out, fmt.Sprintf("known-bad address: %s", hit))
		}
		out = append(out, in.Patterns.EvidenceLines()...)
		out = append(out, in.Patterns.Notes...)
	}

	if in.Anomaly.Available && in.Anomaly.Score > 0.5 {
		out = append(out, fmt.Sprintf("anomaly score %.2f", in.Anomaly.Score))
	}
	if in.Classifier != nil && in.Classifier.Confidence > 0.5 {
		out = append(out, fmt.Sprintf("classifier predicted %s (%.2f)", in.Classifier.Category, in.Classifier.Confidence))
	}

	if in.Intel != nil {
		out = append(out, in.Intel.IOCs...)
		for _, fam := range in.Intel.MalwareFamilies {
			out = append(out, fmt.Sprintf("malware family: %s", fam))
		}
		for _, name := range in.Intel.Unavailable {
			out = append(out, fmt.Sprintf("intel source unavailable: %s", name))
		}
	}

	return out
}
