package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chainsentry/internal/detect"
	"chainsentry/internal/detect/anomaly"
	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/features"
	"chainsentry/internal/fusion"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// TransactionAnalyzer runs the full detection path: feature extraction,
// concurrent detectors, fusion. The known-bad snapshot is taken once per
// call so extraction and pattern checks see the same set.
type TransactionAnalyzer struct {
	log     *slog.Logger
	known   *knownbad.Store
	anomaly *anomaly.Detector
	matcher *pattern.Matcher
	cls     *classifier.Classifier
	intel   *intel.Lookup
	engine  *fusion.Engine
}

// Analyze produces the verdict for one transaction. Detectors run
// concurrently; per-detector failures degrade to absence.
func (a *TransactionAnalyzer) Analyze(ctx context.Context, tx *schema.Transaction) *schema.ThreatDetectionResult {
	snapshot := a.known.Snapshot()

	vec, err := features.Extract(tx, snapshot)
	if err != nil {
		return degradedResult(schema.EntityTransaction, err)
	}

	var (
		wg         sync.WaitGroup
		anomalySig fusion.Signal
		patterns   *pattern.Result
		prediction *classifier.Prediction
		report     *intel.Report
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		score, err := a.anomaly.Score(ctx, vec, tx)
		if err != nil {
			if !errors.Is(err, detect.ErrUnavailable) {
				a.log.Warn("anomaly detector failed", "tx", tx.Hash, "error", err)
			}
			return
		}
		anomalySig = fusion.Signal{Score: score, Available: true}
	}()
	go func() {
		defer wg.Done()
		patterns = a.matcher.MatchTransaction(tx, snapshot)
	}()
	go func() {
		defer wg.Done()
		pred, err := a.cls.Classify(ctx, vec)
		if err != nil {
			if !errors.Is(err, detect.ErrUnavailable) {
				a.log.Warn("classifier failed", "tx", tx.Hash, "error", err)
			}
			return
		}
		prediction = pred
	}()
	go func() {
		defer wg.Done()
		if a.intel == nil || a.intel.SourceCount() == 0 {
			return
		}
		report = a.intel.Check(ctx, []string{tx.From, tx.To})
	}()
	wg.Wait()

	res := a.engine.Fuse(schema.EntityTransaction, fusion.Inputs{
		Anomaly:    anomalySig,
		Patterns:   patterns,
		Classifier: prediction,
		Intel:      report,
	})
	res.TransactionHash = tx.Hash
	res.AffectedAddresses = affected(tx.From, tx.To)
	return res
}
