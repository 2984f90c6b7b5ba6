package analyzer

import (
	"context"
	"fmt"
	"strings"

	"chainsentry/internal/detect/intel"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// Contract risk increments. Scoring is additive on the 0-100 risk scale,
// clamped, with confidence derived as risk/100. Distinct from the weighted
// transaction fusion: contract signals are near-binary static findings, not
// soft scores.
const (
	contractKnownBadScore    = 90
	contractFirstConstruct   = 30
	contractExtraConstruct   = 10
	contractConstructCap     = 50
	contractHoneypotScore    = 25
	contractActivityScore    = 20
	contractUnverifiedScore  = 15
	contractActivityMinTxCnt = 1000
)

// Verdict thresholds on the additive score.
const (
	contractScamTokenThreshold = 80
	contractHoneypotThreshold  = 60
)

// ContractAnalyzer scores a contract by static source analysis plus
// verification and activity checks.
type ContractAnalyzer struct {
	known *knownbad.Store
	intel *intel.Lookup
}

// Analyze produces the verdict for one contract.
func (a *ContractAnalyzer) Analyze(ctx context.Context, c *schema.Contract) *schema.ThreatDetectionResult {
	if c == nil || c.Address == "" {
		return degradedResult(schema.EntityContract, fmt.Errorf("contract address missing"))
	}

	snapshot := a.known.Snapshot()
	addr := strings.ToLower(c.Address)

	var score int
	var evidence []string
	knownBad := false

	if snapshot == nil {
		evidence = append(evidence, "knownBad set unavailable")
	} else if snapshot.Contains(addr) {
		knownBad = true
		score += contractKnownBadScore
		evidence = append(evidence, fmt.Sprintf("known-bad address: %s", addr))
	}

	constructs := pattern.CodeFindings(c.SourceCode)
	for i, name := range constructs {
		evidence = append(evidence, fmt.Sprintf("suspicious construct: %s", name))
		if i == 0 {
			score += contractFirstConstruct
		} else if contractFirstConstruct+i*contractExtraConstruct <= contractConstructCap {
			score += contractExtraConstruct
		}
	}

	honeypots := pattern.HoneypotFindings(c.SourceCode)
	if len(honeypots) > 0 {
		score += contractHoneypotScore
		for _, name := range honeypots {
			evidence = append(evidence, fmt.Sprintf("honeypot indicator: %s", name))
		}
	}

	// A heavily used contract holding nothing is the drained-honeypot /
	// exit-scam shape.
	if c.TxCount >= contractActivityMinTxCnt && c.Balance == 0 {
		score += contractActivityScore
		evidence = append(evidence, fmt.Sprintf("anomalous activity: %d transactions with zero balance", c.TxCount))
	}

	if !c.Verified {
		score += contractUnverifiedScore
		evidence = append(evidence, "contract source unverified")
	}

	if a.intel != nil && a.intel.SourceCount() > 0 {
		report := a.intel.Check(ctx, []string{addr})
		score += report.Boost
		evidence = append(evidence, report.IOCs...)
		for _, name := range report.Unavailable {
			evidence = append(evidence, fmt.Sprintf("intel source unavailable: %s", name))
		}
	}

	if score > 100 {
		score = 100
	}

	category := contractCategory(score, knownBad)
	res := schema.NewResult(schema.EntityContract, category, float64(score)/100, evidence)
	res.ContractAddress = addr
	res.AffectedAddresses = affected(addr)
	return res
}

// contractCategory maps the additive score to a category. Known-bad
// membership forces the most specific category regardless of score.
func contractCategory(score int, knownBad bool) schema.ThreatCategory {
	switch {
	case knownBad, score > contractScamTokenThreshold:
		return schema.CategoryScamToken
	case score > contractHoneypotThreshold:
		return schema.CategoryHoneypot
	default:
		return schema.CategoryMaliciousContract
	}
}
