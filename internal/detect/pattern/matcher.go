// Package pattern matches entities against the static rule battery: regex
// signatures, keyword lists, and known-bad membership checks. Every check
// is independent and order-insensitive; zero matches is the normal case,
// never an error.
package pattern

import (
	"fmt"
	"strings"

	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// Matches maps pattern category name to match count.
type Matches map[string]int

// Score folds the battery into one normalized score:
// sum(matches) / CategoryCount, clamped to 1.
func (m Matches) Score() float64 {
	var sum int
	for _, c := range m {
		sum += c
	}
	score := float64(sum) / float64(CategoryCount)
	if score > 1 {
		return 1
	}
	return score
}

// Total returns the raw match count across categories.
func (m Matches) Total() int {
	var sum int
	for _, c := range m {
		sum += c
	}
	return sum
}

// CategoriesHit returns the matched category names in battery order.
func (m Matches) CategoriesHit() []string {
	var out []string
	for _, name := range categoryNames {
		if m[name] > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Result is the pattern matcher's output for one entity.
type Result struct {
	Matches Matches
	// KnownBadHits are the entity addresses found in the known-bad set,
	// lower-cased, in check order.
	KnownBadHits []string
	// Notes are degradation flags, e.g. a missing known-bad set.
	Notes []string
}

// Matcher runs the fixed battery. It is stateless and safe for concurrent
// use; the rule tables are compiled once at package init.
type Matcher struct{}

// NewMatcher creates a pattern matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

func newResult() *Result {
	m := make(Matches, CategoryCount)
	for _, name := range categoryNames {
		m[name] = 0
	}
	return &Result{Matches: m}
}

// MatchTransaction checks a transaction against the battery using the
// given known-bad snapshot. A nil snapshot degrades the membership checks
// to zero contribution and records a note.
func (p *Matcher) MatchTransaction(tx *schema.Transaction, known *knownbad.Set) *Result {
	res := newResult()
	if tx == nil {
		return res
	}

	res.checkKnownBad(known, tx.From, tx.To)

	input := strings.ToLower(tx.Input)
	if len(input) > 10 {
		for _, sel := range phishingSelectors {
			if strings.HasPrefix(input, sel) {
				res.Matches[CatPhishingPatterns]++
			}
		}
	}

	// Vanity-burn suffixes show up in address-poisoning campaigns.
	for _, addr := range []string{tx.From, tx.To} {
		lower := strings.ToLower(addr)
		if strings.HasSuffix(lower, "dead") || strings.HasSuffix(lower, "beef") {
			res.Matches[CatPhishingPatterns]++
		}
	}

	if len(tx.Input) >= flashLoanMinInputLen && tx.Value == 0 {
		res.Matches[CatFlashLoanPatterns]++
	}
	if tx.GasPrice >= mevGasPriceWei {
		res.Matches[CatMEVPatterns]++
	}

	return res
}

// MatchContract checks a contract's source code and address.
func (p *Matcher) MatchContract(c *schema.Contract, known *knownbad.Set) *Result {
	res := newResult()
	if c == nil {
		return res
	}

	res.checkKnownBad(known, c.Address)

	if c.SourceCode != "" {
		for _, rule := range suspiciousConstructs {
			if rule.Re.MatchString(c.SourceCode) {
				res.Matches[CatSuspiciousContract]++
			}
		}
		for _, rule := range honeypotIndicators {
			if rule.Re.MatchString(c.SourceCode) {
				res.Matches[CatHoneypotIndicators]++
			}
		}
		res.Matches[CatScamKeywords] += CountScamKeywords(c.SourceCode)
	}

	return res
}

// CodeFindings returns the distinct suspicious constructs present in
// contract source, in rule order. Used by the contract analyzer's static
// code analysis step.
func CodeFindings(source string) []string {
	if source == "" {
		return nil
	}
	var out []string
	for _, rule := range suspiciousConstructs {
		if rule.Re.MatchString(source) {
			out = append(out, rule.Name)
		}
	}
	return out
}

// HoneypotFindings returns the distinct honeypot indicators present in
// contract source.
func HoneypotFindings(source string) []string {
	if source == "" {
		return nil
	}
	var out []string
	for _, rule := range honeypotIndicators {
		if rule.Re.MatchString(source) {
			out = append(out, rule.Name)
		}
	}
	return out
}

// CountScamKeywords counts scam keyword occurrences in free text.
func CountScamKeywords(text string) int {
	lower := strings.ToLower(text)
	var n int
	for _, kw := range scamKeywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// CountUrgencyKeywords counts social-pressure phrases in free text.
func CountUrgencyKeywords(text string) int {
	lower := strings.ToLower(text)
	var n int
	for _, kw := range urgencyKeywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// MatchPhishingDomain reports whether host matches a phishing-domain
// signature.
func MatchPhishingDomain(host string) bool {
	for _, re := range phishingDomains {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// HasSuspiciousTLD reports whether host ends in an abused TLD.
func HasSuspiciousTLD(host string) bool {
	lower := strings.ToLower(host)
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(lower, tld) {
			return true
		}
	}
	return false
}

// IsTyposquat reports whether host embeds a legitimate domain's name
// without being that domain, e.g. "metamaskio.xyz".
func IsTyposquat(host string) bool {
	lower := strings.ToLower(host)
	for _, domain := range legitimateDomains {
		squashed := strings.ReplaceAll(domain, ".", "")
		if strings.Contains(strings.ReplaceAll(lower, ".", ""), squashed) &&
			lower != domain && !strings.HasSuffix(lower, "."+domain) {
			return true
		}
	}
	return false
}

// checkKnownBad records membership hits for the given addresses. A nil set
// degrades the check and flags it once.
func (r *Result) checkKnownBad(known *knownbad.Set, addrs ...string) {
	if known == nil {
		r.Notes = append(r.Notes, "knownBad set unavailable")
		return
	}
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		lower := strings.ToLower(addr)
		if known.Contains(lower) {
			r.Matches[CatKnownBadAddresses]++
			r.KnownBadHits = append(r.KnownBadHits, lower)
		}
	}
}

// EvidenceLines renders matched categories as human-readable evidence, in
// battery order.
func (r *Result) EvidenceLines() []string {
	var out []string
	for _, name := range categoryNames {
		if n := r.Matches[name]; n > 0 {
			out = append(out, fmt.Sprintf("pattern match: %s (%d)", name, n))
		}
	}
	return out
}
