// Package analyzer orchestrates detection per entity kind: normalize the
// request, run the detectors, fuse the signals, and attach entity context
// to the verdict. One analyzer per entity kind; all of them degrade to a
// zero-confidence verdict instead of failing the service.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"chainsentry/internal/detect/anomaly"
	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/fusion"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// Fetcher fetches entity data from a blockchain explorer. Nil disables
// fetch-by-hash; analysis then runs on whatever fields the caller supplied.
type Fetcher interface {
	TransactionByHash(ctx context.Context, hash string) (*schema.Transaction, error)
	ContractInfo(ctx context.Context, address string) (*schema.Contract, error)
}

// Service dispatches detect requests to the per-entity analyzers.
type Service struct {
	log       *slog.Logger
	validator *schema.Validator
	fetcher   Fetcher

	tx       *TransactionAnalyzer
	contract *ContractAnalyzer
	url      *URLAnalyzer

	analyses atomic.Uint64
	degraded atomic.Uint64
}

// NewService wires the per-entity analyzers over shared detector state.
// anomalyDet and cls may be nil-model detectors (unavailable); lookup and
// fetcher may be nil.
func NewService(log *slog.Logger, store *knownbad.Store, anomalyDet *anomaly.Detector, cls *classifier.Classifier, lookup *intel.Lookup, fetcher Fetcher) *Service {
	if log == nil {
		log = slog.Default()
	}
	matcher := pattern.NewMatcher()
	engine := fusion.NewEngine()
	return &Service{
		log:       log,
		validator: schema.NewValidator(),
		fetcher:   fetcher,
		tx: &TransactionAnalyzer{
			log:     log,
			known:   store,
			anomaly: anomalyDet,
			matcher: matcher,
			cls:     cls,
			intel:   lookup,
			engine:  engine,
		},
		contract: &ContractAnalyzer{
			known: store,
			intel: lookup,
		},
		url: &URLAnalyzer{
			known: store,
		},
	}
}

// Detect analyzes one entity. A non-nil error means the request itself was
// invalid; every analysis failure past validation degrades into the
// returned verdict instead.
func (s *Service) Detect(ctx context.Context, req *schema.DetectRequest) (*schema.ThreatDetectionResult, error) {
	if err := s.validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	s.analyses.Add(1)

	var res *schema.ThreatDetectionResult
	switch req.Type {
	case schema.EntityTransaction:
		res = s.detectTransaction(ctx, req)
	case schema.EntityContract:
		res = s.detectContract(ctx, req)
	case schema.EntityURL:
		res = s.url.Analyze(ctx, &schema.URL{Value: req.URL, Content: req.Content})
	default:
		return nil, fmt.Errorf("unknown request type: %q", req.Type)
	}

	if res.ThreatType == schema.CategoryUnknown {
		s.degraded.Add(1)
	}
	return res, nil
}

func (s *Service) detectTransaction(ctx context.Context, req *schema.DetectRequest) *schema.ThreatDetectionResult {
	tx := req.Data
	var fetchNote string
	if tx == nil {
		fetched, err := s.fetchTransaction(ctx, req.Hash)
		if err != nil {
			// Analysis proceeds on the hash alone; the missing fields
			// zero out and the outage is visible in the evidence.
			s.log.Warn("explorer fetch failed", "hash", req.Hash, "error", err)
			fetchNote = fmt.Sprintf("explorer fetch failed: %v", err)
			fetched = &schema.Transaction{Hash: req.Hash}
		}
		tx = fetched
	}

	res := s.tx.Analyze(ctx, tx)
	if fetchNote != "" {
		res.Evidence = append(res.Evidence, fetchNote)
	}
	return res
}

func (s *Service) fetchTransaction(ctx context.Context, hash string) (*schema.Transaction, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("no explorer configured")
	}
	return s.fetcher.TransactionByHash(ctx, hash)
}

func (s *Service) detectContract(ctx context.Context, req *schema.DetectRequest) *schema.ThreatDetectionResult {
	c := &schema.Contract{
		Address:    req.Address,
		SourceCode: req.SourceCode,
		Verified:   req.SourceCode != "",
	}
	var fetchNote string
	if req.SourceCode == "" && s.fetcher != nil {
		fetched, err := s.fetcher.ContractInfo(ctx, req.Address)
		if err != nil {
			s.log.Warn("explorer fetch failed", "address", req.Address, "error", err)
			fetchNote = fmt.Sprintf("explorer fetch failed: %v", err)
		} else {
			c = fetched
		}
	}

	res := s.contract.Analyze(ctx, c)
	if fetchNote != "" {
		res.Evidence = append(res.Evidence, fetchNote)
	}
	return res
}

// Stats returns service counters for the metrics endpoint.
func (s *Service) Stats() (analyses, degraded uint64) {
	return s.analyses.Load(), s.degraded.Load()
}

// degradedResult is the entity-level failure verdict: zero confidence, the
// failure message as sole evidence.
func degradedResult(entity schema.EntityType, err error) *schema.ThreatDetectionResult {
	return schema.NewResult(entity, schema.CategoryUnknown, 0, []string{err.Error()})
}

// affected collects the distinct non-empty addresses, lower-cased, in
// argument order.
func affected(addrs ...string) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
