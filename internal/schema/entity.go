// Package schema defines the canonical entity and verdict types for
// ChainSentry. Every analyzed entity is normalized to one of these
// structures before detection, and every analysis produces exactly one
// ThreatDetectionResult.
package schema

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of entity being analyzed.
type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityContract    EntityType = "contract"
	EntityURL         EntityType = "url"
)

// IsValid checks if the entity type is a valid value.
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTransaction, EntityContract, EntityURL:
		return true
	}
	return false
}

// Transaction is a normalized blockchain transaction.
// Value, Gas and GasPrice are raw on-chain units (wei for Value and
// GasPrice); Timestamp is unix seconds. Missing numeric fields are zero
// and missing addresses are empty strings.
type Transaction struct {
	Hash      string  `json:"hash"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Value     float64 `json:"value"`
	Gas       float64 `json:"gas"`
	GasPrice  float64 `json:"gasPrice"`
	Input     string  `json:"input"`
	Timestamp int64   `json:"timestamp"`
}

// Contract is a smart contract plus the metadata the explorer exposes.
type Contract struct {
	Address    string    `json:"address"`
	SourceCode string    `json:"source_code,omitempty"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	TxCount    uint64    `json:"tx_count"`
	Balance    float64   `json:"balance"`
}

// URL is a web address with optionally fetched page content.
type URL struct {
	Value   string `json:"url"`
	Content string `json:"content,omitempty"`
}

// ThreatCategory is the closed set of threat verdict categories.
type ThreatCategory string

const (
	CategoryPhishing          ThreatCategory = "phishing"
	CategoryScamToken         ThreatCategory = "scam_token"
	CategoryRugPull           ThreatCategory = "rug_pull"
	CategoryFlashLoanAttack   ThreatCategory = "flash_loan_attack"
	CategoryMEVAttack         ThreatCategory = "mev_attack"
	CategoryFakeAirdrop       ThreatCategory = "fake_airdrop"
	CategoryPonziScheme       ThreatCategory = "ponzi_scheme"
	CategoryHoneypot          ThreatCategory = "honeypot"
	CategoryMaliciousContract ThreatCategory = "malicious_contract"
	CategorySocialEngineering ThreatCategory = "social_engineering"

	// CategoryUnknown is only used in degraded error responses, never in
	// a successful verdict.
	CategoryUnknown ThreatCategory = "unknown"
)

// Categories returns the closed category set in its fixed order. The order
// is the label order of the trained classifier and must not change within
// a model version.
func Categories() []ThreatCategory {
	return []ThreatCategory{
		CategoryPhishing,
		CategoryScamToken,
		CategoryRugPull,
		CategoryFlashLoanAttack,
		CategoryMEVAttack,
		CategoryFakeAirdrop,
		CategoryPonziScheme,
		CategoryHoneypot,
		CategoryMaliciousContract,
		CategorySocialEngineering,
	}
}

// IsValid checks if the category is a member of the closed set.
func (c ThreatCategory) IsValid() bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

// ThreatDetectionResult is the single verdict produced per analysis call.
// It is immutable once returned. RiskScore is always round(Confidence*100)
// and the evidence list is never empty when Confidence > 0.
type ThreatDetectionResult struct {
	ID                uuid.UUID      `json:"id"`
	EntityType        EntityType     `json:"entity_type"`
	ThreatType        ThreatCategory `json:"threat_type"`
	Confidence        float64        `json:"confidence"`
	RiskScore         int            `json:"risk_score"`
	Evidence          []string       `json:"evidence"`
	Timestamp         time.Time      `json:"timestamp"`
	TransactionHash   string         `json:"transaction_hash,omitempty"`
	ContractAddress   string         `json:"contract_address,omitempty"`
	AffectedAddresses []string       `json:"affected_addresses"`
}

// RiskScoreFor converts a confidence in [0,1] to the 0-100 risk scale.
func RiskScoreFor(confidence float64) int {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return int(math.Round(confidence * 100))
}

// NewResult builds a verdict with the confidence/risk-score invariant
// applied. Evidence retains insertion order.
func NewResult(entity EntityType, category ThreatCategory, confidence float64, evidence []string) *ThreatDetectionResult {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if evidence == nil {
		evidence = []string{}
	}
	return &ThreatDetectionResult{
		ID:                uuid.New(),
		EntityType:        entity,
		ThreatType:        category,
		Confidence:        confidence,
		RiskScore:         RiskScoreFor(confidence),
		Evidence:          evidence,
		Timestamp:         time.Now().UTC(),
		AffectedAddresses: []string{},
	}
}
