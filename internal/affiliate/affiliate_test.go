package affiliate

import "testing"

func TestRewrite(t *testing.T) {
	ids := map[string]string{
		"amazon":       "mytag-20",
		"shopee":       "aff-777",
		"mercadolivre": "ml-partner",
	}

	tests := []struct {
		name     string
		url      string
		platform string
		ids      map[string]string
		want     string
	}{
		{
			name:     "amazon replaces existing tag and strips link params",
			url:      "https://www.amazon.com.br/dp/B0ABC?tag=olddeal-20&linkCode=xyz&linkId=123",
			platform: "amazon",
			ids:      ids,
			want:     "https://www.amazon.com.br/dp/B0ABC?tag=mytag-20",
		},
		{
			name:     "amazon adds tag when absent",
			url:      "https://www.amazon.com.br/dp/B0ABC",
			platform: "amazon",
			ids:      ids,
			want:     "https://www.amazon.com.br/dp/B0ABC?tag=mytag-20",
		},
		{
			name:     "shopee sets af_siteid",
			url:      "https://shopee.com.br/produto-123",
			platform: "shopee",
			ids:      ids,
			want:     "https://shopee.com.br/produto-123?af_siteid=aff-777",
		},
		{
			name:     "mercadolivre sets pdp_source",
			url:      "https://www.mercadolivre.com.br/item-456",
			platform: "mercadolivre",
			ids:      ids,
			want:     "https://www.mercadolivre.com.br/item-456?pdp_source=ml-partner",
		},
		{
			name:     "unsupported platform passes through",
			url:      "https://www.casasbahia.com.br/geladeira?utm_source=feed",
			platform: "casasbahia",
			ids:      ids,
			want:     "https://www.casasbahia.com.br/geladeira?utm_source=feed",
		},
		{
			name:     "missing identifier passes through",
			url:      "https://www.amazon.com.br/dp/B0ABC",
			platform: "amazon",
			ids:      map[string]string{},
			want:     "https://www.amazon.com.br/dp/B0ABC",
		},
		{
			name:     "nil identifiers pass through",
			url:      "https://www.amazon.com.br/dp/B0ABC",
			platform: "amazon",
			ids:      nil,
			want:     "https://www.amazon.com.br/dp/B0ABC",
		},
		{
			name:     "unparseable URL passes through",
			url:      "://not-a-url",
			platform: "amazon",
			ids:      ids,
			want:     "://not-a-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rewrite(tt.url, tt.platform, tt.ids); got != tt.want {
				t.Errorf("Rewrite = %q, want %q", got, tt.want)
			}
		})
	}
}
