package analyzer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"chainsentry/internal/detect"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/schema"
)

// Domain indicator scores. Indicators are additive and the component is
// clamped to 1, so stacked indicators (lookalike name on a throwaway TLD)
// outrank any single one.
const (
	urlKnownBadScore    = 1.0
	urlPhishingScore    = 0.8
	urlTyposquatScore   = 0.7
	urlSuspiciousTLD    = 0.6
	urlScamKeyword      = 0.1
	urlUrgencyKeyword   = 0.15
	urlPlaintextScore   = 0.7
	urlBadCertScore     = 0.9
	urlPhishThreshold   = 0.8
	urlCatchAllDiscount = 0.6
)

// URLAnalyzer scores URLs with its own deterministic rule: domain, content
// and transport component scores averaged over the components actually
// computed. No feature vector or model path.
type URLAnalyzer struct {
	known *knownbad.Store

	// CheckCertificates enables a live TLS handshake for https URLs.
	// Off by default; analysis must not depend on outbound connectivity.
	CheckCertificates bool
}

// Analyze produces the verdict for one URL.
func (a *URLAnalyzer) Analyze(ctx context.Context, u *schema.URL) *schema.ThreatDetectionResult {
	raw := strings.TrimSpace(u.Value)
	hadScheme := strings.Contains(raw, "://")
	if !hadScheme {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return degradedResult(schema.EntityURL, fmt.Errorf("malformed url: %q", u.Value))
	}
	host := strings.ToLower(parsed.Hostname())

	var evidence []string
	var total, components float64

	domainScore, strongDomain, domainEvidence := a.scoreDomain(host)
	evidence = append(evidence, domainEvidence...)
	total += domainScore
	components++

	if u.Content != "" {
		contentScore, contentEvidence := scoreContent(u.Content)
		evidence = append(evidence, contentEvidence...)
		total += contentScore
		components++
	}

	if hadScheme {
		transportScore, transportEvidence := a.scoreTransport(ctx, parsed)
		evidence = append(evidence, transportEvidence...)
		total += transportScore
		components++
	}

	score := total / components
	// A direct domain signature is conclusive on its own; averaging in
	// clean components must not dilute it below the phishing threshold.
	if strongDomain && score < domainScore {
		score = domainScore
	}

	category := schema.CategoryPhishing
	if score < urlPhishThreshold {
		category = schema.CategorySocialEngineering
		score *= urlCatchAllDiscount
	}
	if score > 0 && len(evidence) == 0 {
		evidence = append(evidence, fmt.Sprintf("combined url risk %.2f", score))
	}
	return schema.NewResult(schema.EntityURL, category, detect.Clamp01(score), evidence)
}

// scoreDomain checks the host against the known-bad set and the domain
// signature tables. strong reports a conclusive hit (known-bad membership
// or a phishing-domain signature).
func (a *URLAnalyzer) scoreDomain(host string) (score float64, strong bool, evidence []string) {
	snapshot := a.known.Snapshot()
	if snapshot == nil {
		evidence = append(evidence, "knownBad set unavailable")
	} else if snapshot.Contains(host) {
		score += urlKnownBadScore
		strong = true
		evidence = append(evidence, fmt.Sprintf("known-bad domain: %s", host))
	}

	if pattern.MatchPhishingDomain(host) {
		score += urlPhishingScore
		strong = true
		evidence = append(evidence, fmt.Sprintf("phishing domain pattern: %s", host))
	}
	if pattern.IsTyposquat(host) {
		score += urlTyposquatScore
		evidence = append(evidence, fmt.Sprintf("typosquat domain: %s", host))
	}
	if pattern.HasSuspiciousTLD(host) {
		score += urlSuspiciousTLD
		evidence = append(evidence, fmt.Sprintf("suspicious TLD: %s", host))
	}
	return detect.Clamp01(score), strong, evidence
}

// scoreContent scores fetched page content by keyword density.
func scoreContent(content string) (float64, []string) {
	var evidence []string
	var score float64

	if n := pattern.CountScamKeywords(content); n > 0 {
		score += float64(n) * urlScamKeyword
		evidence = append(evidence, fmt.Sprintf("scam keywords in content (%d)", n))
	}
	if n := pattern.CountUrgencyKeywords(content); n > 0 {
		score += float64(n) * urlUrgencyKeyword
		evidence = append(evidence, fmt.Sprintf("urgency keywords in content (%d)", n))
	}
	return detect.Clamp01(score), evidence
}

// scoreTransport scores the transport layer: plain HTTP is the main
// signal, with an optional live certificate check for https.
func (a *URLAnalyzer) scoreTransport(ctx context.Context, parsed *url.URL) (float64, []string) {
	if parsed.Scheme != "https" {
		return urlPlaintextScore, []string{"no TLS transport"}
	}
	if !a.CheckCertificates {
		return 0, nil
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		port = "443"
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 5 * time.Second}}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return urlBadCertScore, []string{fmt.Sprintf("TLS handshake failed: %v", err)}
	}
	conn.Close()
	return 0, nil
}
