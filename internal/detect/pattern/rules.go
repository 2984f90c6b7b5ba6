package pattern

import "regexp"

// Pattern category names. The category count is the divisor of the fused
// pattern score, so adding a category rescales all scores and counts as a
// rule-set version change.
const (
	CatKnownBadAddresses  = "known_bad_addresses"
	CatPhishingPatterns   = "phishing_patterns"
	CatScamKeywords       = "scam_keywords"
	CatSuspiciousContract = "suspicious_contract"
	CatHoneypotIndicators = "honeypot_indicators"
	CatFlashLoanPatterns  = "flash_loan_patterns"
	CatMEVPatterns        = "mev_patterns"
)

// categoryNames is the fixed battery, in evidence order.
var categoryNames = []string{
	CatKnownBadAddresses,
	CatPhishingPatterns,
	CatScamKeywords,
	CatSuspiciousContract,
	CatHoneypotIndicators,
	CatFlashLoanPatterns,
	CatMEVPatterns,
}

// CategoryCount is the number of pattern categories in the battery.
const CategoryCount = 7

// ERC-20 function selectors abused by drainer and approval-phishing kits.
var phishingSelectors = []string{
	"0xa9059cbb", // transfer(address,uint256)
	"0x23b872dd", // transferFrom(address,address,uint256)
	"0x095ea7b3", // approve(address,uint256)
	"0x39509351", // increaseAllowance(address,uint256)
	"0xd505accf", // permit(...)
}

// scamKeywords match free text: page content, token metadata, memo fields.
var scamKeywords = []string{
	"free tokens",
	"guaranteed profit",
	"double your crypto",
	"exclusive airdrop",
	"limited time offer",
	"risk-free investment",
	"get rich quick",
	"insider trading",
	"pump and dump",
}

// urgencyKeywords are the softer social-pressure phrases scored by the URL
// content analyzer.
var urgencyKeywords = []string{
	"limited time",
	"act now",
	"expires soon",
	"hurry up",
}

// suspiciousConstructs are contract source signatures. Name is the stable
// identifier reported in code findings.
type codeRule struct {
	Name string
	Re   *regexp.Regexp
}

var suspiciousConstructs = []codeRule{
	{Name: "selfdestruct", Re: regexp.MustCompile(`(?i)selfdestruct\s*\(`)},
	{Name: "delegatecall", Re: regexp.MustCompile(`(?i)delegatecall\s*\(`)},
	{Name: "owner_only_withdraw", Re: regexp.MustCompile(`(?i)function\s+withdraw\s*\([^)]*\)\s*external\s+onlyOwner`)},
	{Name: "inline_assembly", Re: regexp.MustCompile(`(?i)assembly\s*\{`)},
}

var honeypotIndicators = []codeRule{
	{Name: "blacklist_function", Re: regexp.MustCompile(`(?i)function\s+(addToBlacklist|blacklist|setBotBlacklist)\s*\(`)},
	{Name: "transfer_fee", Re: regexp.MustCompile(`(?i)(transfer|sell)\s*fee`)},
	{Name: "max_tx_limit", Re: regexp.MustCompile(`(?i)maxTx(Amount|Limit)`)},
	{Name: "trading_toggle", Re: regexp.MustCompile(`(?i)function\s+(enableTrading|setTradingEnabled|openTrading)\s*\(`)},
}

// phishingDomains match lookalike domains of major web3 properties on
// throwaway TLDs.
var phishingDomains = []*regexp.Regexp{
	regexp.MustCompile(`(?i)metamask.*\.(tk|ml|ga|cf)$`),
	regexp.MustCompile(`(?i)uniswap.*\.(tk|ml|ga|cf)$`),
	regexp.MustCompile(`(?i)pancakeswap.*\.(tk|ml|ga|cf)$`),
	regexp.MustCompile(`(?i)opensea.*\.(tk|ml|ga|cf)$`),
	regexp.MustCompile(`(?i)ethereum.*\.(tk|ml|ga|cf)$`),
	regexp.MustCompile(`(?i)(wallet|airdrop|claim)[-.]?(connect|verify|sync)`),
}

// suspiciousTLDs are free/abused top-level domains.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".click", ".download"}

// legitimateDomains is the typosquat allowlist: hosts embedding one of
// these names without being it are treated as lookalikes.
var legitimateDomains = []string{
	"metamask.io",
	"uniswap.org",
	"opensea.io",
	"ethereum.org",
	"pancakeswap.finance",
}

// Flash-loan heuristics: large calldata with zero value is the shape of a
// single-transaction borrow/exploit/repay bundle.
const flashLoanMinInputLen = 1024

// MEV heuristic: gas price at or above this (wei) marks priority-fee
// bidding typical of sandwich/front-running bots.
const mevGasPriceWei = 300e9
