// Package affiliate rewrites offer URLs into monetized affiliate URLs.
package affiliate

import "net/url"

// Affiliate query parameter per platform.
var affiliateParams = map[string]string{
	"amazon":       "tag",
	"shopee":       "af_siteid",
	"mercadolivre": "pdp_source",
}

// Query parameters stripped before rewriting, per platform. Existing
// affiliate attribution must not survive the rewrite.
var conflictingParams = map[string][]string{
	"amazon": {"tag", "linkCode", "linkId"},
}

// Rewrite converts rawURL into an affiliate URL for the given platform
// using the user's per-platform identifiers. Unsupported platforms,
// missing identifiers, and unparseable URLs all pass the original URL
// through unchanged; rewriting is never allowed to block the pipeline.
func Rewrite(rawURL, platform string, affiliateIDs map[string]string) string {
	param, ok := affiliateParams[platform]
	if !ok {
		return rawURL
	}
	id := affiliateIDs[platform]
	if id == "" {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for _, p := range conflictingParams[platform] {
		q.Del(p)
	}
	q.Set(param, id)
	u.RawQuery = q.Encode()
	return u.String()
}
