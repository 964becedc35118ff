package channel

import (
	"fmt"
	"strings"

	"dealpipe/internal/model"
)

const descriptionBudget = 200

// FormatOffer renders an offer as a Markdown message: title, truncated
// description, price with struck-through original price when
// discounted, discount badge, platform label, and a link preferring
// the affiliate URL.
func FormatOffer(o *model.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 *%s*\n\n", o.Title)

	if o.Description != "" {
		b.WriteString(truncate(o.Description, descriptionBudget))
		b.WriteString("\n\n")
	}

	if o.Price != nil {
		fmt.Fprintf(&b, "💰 *Preço:* R$ %.2f", *o.Price)
		if o.OriginalPrice != nil && *o.OriginalPrice > *o.Price {
			fmt.Fprintf(&b, " ~R$ %.2f~", *o.OriginalPrice)
		}
		b.WriteString("\n")
	}

	if o.Discount != nil {
		fmt.Fprintf(&b, "🎁 *Desconto:* %d%%\n", *o.Discount)
	}

	if o.Platform != "" {
		fmt.Fprintf(&b, "🏪 *Plataforma:* %s\n", o.Platform)
	}

	link := o.AffiliateURL
	if link == "" {
		link = o.OriginalURL
	}
	fmt.Fprintf(&b, "\n🔗 [Ver Oferta](%s)", link)

	return b.String()
}

func truncate(s string, budget int) string {
	r := []rune(s)
	if len(r) <= budget {
		return s
	}
	return string(r[:budget]) + "..."
}
