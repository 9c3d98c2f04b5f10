package order

import (
	"regexp"

	"options-engine/pkg/i18n"
)

// Rejection categories shown to users.
const (
	CategoryNearExpiry        = "contract-blocked-near-expiry"
	CategoryPositionLimit     = "position-limit-exceeded"
	CategoryInsufficientFunds = "insufficient-funds"
	CategoryMarketClosed      = "market-closed"
	CategoryInvalidSymbol     = "invalid-symbol"
	CategoryTickSize          = "tick-size-violation"
	CategoryRejected          = "rejected"
)

// Category is a classified broker rejection.
type Category struct {
	Code       string `json:"code"`
	MessageKey string `json:"messageKey"`
}

// Message returns the localized display text.
func (c Category) Message() string {
	return i18n.Get(c.MessageKey)
}

type rejectionRule struct {
	category Category
	pattern  *regexp.Regexp
	// unless vetoes a match; price band remarks share the "limit" wording.
	unless *regexp.Regexp
}

var priceBand = regexp.MustCompile(`(?i)circuit|\blpp\b|price\s+(band|range)|\bdpr\b|price\s+protection`)

// Checked in order; the first match wins. Position limits come before the
// generic "limit" wording used by other remarks.
var rejectionRules = []rejectionRule{
	{category: Category{CategoryNearExpiry, "RejectNearExpiry"},
		pattern: regexp.MustCompile(`(?i)(near|close to|nearing)\s+expiry|expiry\s+(day|week)\s+(block|restrict)|blocked\s+for\s+trading|contract.*(blocked|not allowed).*expir`)},
	{category: Category{CategoryPositionLimit, "RejectPositionLimit"},
		pattern: regexp.MustCompile(`(?i)freeze\s*(qty|quantity)|position\s+limit|qty\s+limit|quantity\s+limit|limit\s+exceeded|exceeds?\s+.*limit|open\s+interest\s+limit`),
		unless:  priceBand},
	{category: Category{CategoryInsufficientFunds, "RejectInsufficientFunds"},
		pattern: regexp.MustCompile(`(?i)insufficient|margin\s+(shortfall|exceeds|required)|not\s+enough\s+(funds|margin|balance)|rms:.*margin`)},
	{category: Category{CategoryMarketClosed, "RejectMarketClosed"},
		pattern: regexp.MustCompile(`(?i)market\s+(is\s+)?closed|outside\s+(market|trading)\s+hours|after\s+market|amo\s+not\s+allowed|session\s+closed`)},
	{category: Category{CategoryInvalidSymbol, "RejectInvalidSymbol"},
		pattern: regexp.MustCompile(`(?i)invalid\s+(symbol|instrument|contract|token)|unknown\s+(symbol|instrument)|symbol\s+not\s+found|no\s+market\s+data`)},
	{category: Category{CategoryTickSize, "RejectTickSize"},
		pattern: regexp.MustCompile(`(?i)tick\s*size|multiple\s+of\s+(the\s+)?tick|price\s+not\s+in\s+multiples?`)},
}

var genericRejection = Category{CategoryRejected, "RejectGeneric"}

// Classify maps a free-text broker remark onto the rejection taxonomy. It is
// best-effort pattern matching; unmatched remarks are "rejected".
func Classify(remark string) Category {
	for _, r := range rejectionRules {
		if r.pattern.MatchString(remark) && (r.unless == nil || !r.unless.MatchString(remark)) {
			return r.category
		}
	}
	return genericRejection
}
