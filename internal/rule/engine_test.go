package rule

import (
	"testing"

	"dealpipe/internal/model"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		offer   model.Offer
		filters model.RuleFilters
		want    bool
	}{
		{
			name:    "empty filters match unconditionally",
			offer:   model.Offer{Title: "anything"},
			filters: model.RuleFilters{},
			want:    true,
		},
		{
			name:    "keyword matches title case-insensitively",
			offer:   model.Offer{Title: "ECHO Dot 5", Description: "smart speaker"},
			filters: model.RuleFilters{Keywords: []string{"echo"}},
			want:    true,
		},
		{
			name:    "keyword matches description",
			offer:   model.Offer{Title: "Oferta", Description: "Fone Bluetooth sem fio"},
			filters: model.RuleFilters{Keywords: []string{"bluetooth"}},
			want:    true,
		},
		{
			name:    "one matching keyword is enough",
			offer:   model.Offer{Title: "Notebook Gamer"},
			filters: model.RuleFilters{Keywords: []string{"geladeira", "notebook"}},
			want:    true,
		},
		{
			name:    "no keyword matches",
			offer:   model.Offer{Title: "Notebook Gamer"},
			filters: model.RuleFilters{Keywords: []string{"geladeira", "fogão"}},
			want:    false,
		},
		{
			name:    "price inside bounds",
			offer:   model.Offer{Price: floatPtr(150)},
			filters: model.RuleFilters{MinPrice: floatPtr(50), MaxPrice: floatPtr(200)},
			want:    true,
		},
		{
			name:    "price below minimum",
			offer:   model.Offer{Price: floatPtr(30)},
			filters: model.RuleFilters{MinPrice: floatPtr(50)},
			want:    false,
		},
		{
			name:    "price above maximum",
			offer:   model.Offer{Price: floatPtr(250)},
			filters: model.RuleFilters{MaxPrice: floatPtr(200)},
			want:    false,
		},
		{
			name:    "missing price never fails a bound",
			offer:   model.Offer{},
			filters: model.RuleFilters{MinPrice: floatPtr(50), MaxPrice: floatPtr(200)},
			want:    true,
		},
		{
			name:    "discount meets minimum",
			offer:   model.Offer{Discount: intPtr(25)},
			filters: model.RuleFilters{MinDiscount: intPtr(20)},
			want:    true,
		},
		{
			name:    "discount below minimum",
			offer:   model.Offer{Discount: intPtr(10)},
			filters: model.RuleFilters{MinDiscount: intPtr(20)},
			want:    false,
		},
		{
			name:    "missing discount fails a minimum discount",
			offer:   model.Offer{},
			filters: model.RuleFilters{MinDiscount: intPtr(20)},
			want:    false,
		},
		{
			name:    "platform in set",
			offer:   model.Offer{Platform: "amazon"},
			filters: model.RuleFilters{Platforms: []string{"amazon", "shopee"}},
			want:    true,
		},
		{
			name:    "platform not in set",
			offer:   model.Offer{Platform: "aliexpress"},
			filters: model.RuleFilters{Platforms: []string{"amazon", "shopee"}},
			want:    false,
		},
		{
			name: "all clauses together",
			offer: model.Offer{
				Title:    "Echo Dot 5",
				Price:    floatPtr(150),
				Discount: intPtr(30),
				Platform: "amazon",
			},
			filters: model.RuleFilters{
				Keywords:    []string{"echo"},
				MinPrice:    floatPtr(100),
				MaxPrice:    floatPtr(200),
				MinDiscount: intPtr(20),
				Platforms:   []string{"amazon"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(&tt.offer, tt.filters); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
