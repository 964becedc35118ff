// Package extract implements best-effort field extraction from feed items:
// price and discount heuristics over free text, platform detection, and
// the canonical dedup hash of an offer's origin URL.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// PlatformUnknown labels URLs that match no known platform domain.
const PlatformUnknown = "unknown"

// First match wins, so more specific patterns come first.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)R\$\s*(\d+(?:[.,]\d{2})?)`),
	regexp.MustCompile(`(?i)(\d+(?:[.,]\d{2})?)\s*reais`),
	regexp.MustCompile(`(?i)por\s*R?\$?\s*(\d+(?:[.,]\d{2})?)`),
}

var discountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)%\s*off`),
	regexp.MustCompile(`(?i)(\d+)%\s*desconto`),
	regexp.MustCompile(`(?i)desconto\s*de\s*(\d+)%`),
}

var platformDomains = []struct {
	substr   string
	platform string
}{
	{"amazon.com", "amazon"},
	{"amzn.", "amazon"},
	{"shopee.com", "shopee"},
	{"mercadolivre.com", "mercadolivre"},
	{"mercadolibre.com", "mercadolivre"},
	{"aliexpress.com", "aliexpress"},
	{"magazineluiza.com", "magazineluiza"},
	{"casasbahia.com", "casasbahia"},
}

// Price extracts a price from free text. Decimal commas are normalized
// to points. Returns nil when no pattern matches.
func Price(text string) *float64 {
	if text == "" {
		return nil
	}
	for _, re := range pricePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}

// Discount extracts a discount percentage from free text. Returns nil
// when no pattern matches.
func Discount(text string) *int {
	if text == "" {
		return nil
	}
	for _, re := range discountPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}

// Platform matches a URL against the known platform domains.
func Platform(url string) string {
	lower := strings.ToLower(url)
	for _, d := range platformDomains {
		if strings.Contains(lower, d.substr) {
			return d.platform
		}
	}
	return PlatformUnknown
}

// URLHash returns the canonical dedup fingerprint of an origin URL.
func URLHash(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}
