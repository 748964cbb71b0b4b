// Package classifier decides whether an order line is a real product or
// non-product noise such as a discount code, referral code or adjustment line.
//
// The rules are heuristics. Short all-caps product SKUs without separators
// match the named-promo shape and are reported as noise; that behavior is kept
// on purpose until an allow-list is agreed with operations.
package classifier

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	RuleNonPositivePrice = "non_positive_price"
	RuleKeyword          = "keyword"
	RuleReferralCode     = "referral_code_shape"
	RuleGeneratedCode    = "generated_code_shape"
	RuleNamedPromo       = "named_promo_shape"
)

var (
	noiseKeywords = []string{"discount", "referral", "affiliate", "promo", "coupon", "code", "voucher"}
	promoWords    = []string{"FAVORITES", "FAVOURITES", "PICK", "CHOICE", "SPECIAL"}

	referralCodeRe  = regexp.MustCompile(`^[A-Z]{2,15}[0-9]{1,4}$`)
	generatedCodeRe = regexp.MustCompile(`^[A-Z0-9]{6,10}$`)
	namedPromoRe    = regexp.MustCompile(`^[A-Z]{4,20}$`)
)

// Item is the classifier's view of an order line.
type Item struct {
	SKU   string
	Name  string
	Price *decimal.Decimal
}

// Verdict reports the outcome and, for noise, the rule that matched.
type Verdict struct {
	Noise bool
	Rule  string
}

type rule struct {
	name  string
	match func(Item) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{name: RuleNonPositivePrice, match: nonPositivePrice},
	{name: RuleKeyword, match: containsKeyword},
	{name: RuleReferralCode, match: func(it Item) bool { return referralCodeShape(normalizeSKU(it.SKU)) }},
	{name: RuleGeneratedCode, match: func(it Item) bool { return generatedCodeShape(normalizeSKU(it.SKU)) }},
	{name: RuleNamedPromo, match: func(it Item) bool { return namedPromoShape(normalizeSKU(it.SKU)) }},
}

// Rules returns the rule names in evaluation order.
func Rules() []string {
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.name)
	}
	return names
}

// Classify runs the ordered rule list against item.
func Classify(item Item) Verdict {
	for _, r := range rules {
		if r.match(item) {
			return Verdict{Noise: true, Rule: r.name}
		}
	}
	return Verdict{}
}

// IsNoiseItem reports whether the line should be ignored when comparing orders.
// A nil price skips the price rule.
func IsNoiseItem(sku, name string, price *decimal.Decimal) bool {
	return Classify(Item{SKU: sku, Name: name, Price: price}).Noise
}

func nonPositivePrice(it Item) bool {
	return it.Price != nil && it.Price.LessThanOrEqual(decimal.Zero)
}

func containsKeyword(it Item) bool {
	haystack := strings.ToLower(it.Name + it.SKU)
	for _, kw := range noiseKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func referralCodeShape(sku string) bool {
	return sku != "" && referralCodeRe.MatchString(sku)
}

// generatedCodeShape needs at least one letter next to a digit so that
// plain runs like "ABCDEF" or "123456" do not qualify.
func generatedCodeShape(sku string) bool {
	if sku == "" || !generatedCodeRe.MatchString(sku) {
		return false
	}
	for i := 1; i < len(sku); i++ {
		if isDigit(sku[i-1]) != isDigit(sku[i]) {
			return true
		}
	}
	return false
}

func namedPromoShape(sku string) bool {
	if sku == "" || !namedPromoRe.MatchString(sku) {
		return false
	}
	if len(sku) <= 12 {
		return true
	}
	for _, w := range promoWords {
		if strings.Contains(sku, w) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
