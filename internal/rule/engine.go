// Package rule implements the offer matching engine.
package rule

import (
	"strings"

	"dealpipe/internal/model"
)

// Matches checks whether an offer passes a rule's filters.
// Every clause is optional and an absent clause always passes, so an
// empty filter set matches unconditionally. Price bounds are enforced
// only when the offer has a known price; a missing price never fails a
// bound. A minimum discount, by contrast, requires the discount to be
// present.
func Matches(offer *model.Offer, f model.RuleFilters) bool {
	if len(f.Keywords) > 0 && !anyKeyword(offer, f.Keywords) {
		return false
	}

	if offer.Price != nil {
		if f.MinPrice != nil && *offer.Price < *f.MinPrice {
			return false
		}
		if f.MaxPrice != nil && *offer.Price > *f.MaxPrice {
			return false
		}
	}

	if f.MinDiscount != nil {
		if offer.Discount == nil || *offer.Discount < *f.MinDiscount {
			return false
		}
	}

	if len(f.Platforms) > 0 && !containsString(f.Platforms, offer.Platform) {
		return false
	}

	return true
}

func anyKeyword(offer *model.Offer, keywords []string) bool {
	text := strings.ToLower(offer.Title + " " + offer.Description)
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
