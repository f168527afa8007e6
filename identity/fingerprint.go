package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"pricewatch/models"
)

var (
	asinRegex         = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d)/([A-Za-z0-9]{10})(?:[/?]|$)`)
	flipkartItemRegex = regexp.MustCompile(`/p/(itm[A-Za-z0-9]+)`)
	multiSlashRegex   = regexp.MustCompile(`/{2,}`)
)

// NormalizeURL reduces a product page URL to the part that identifies the
// listing. Amazon links collapse to their ASIN and Flipkart links to their
// item id, so tracking parameters and slugs do not matter.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	if m := asinRegex.FindStringSubmatch(u.Path); m != nil && strings.Contains(host, "amazon.") {
		return host + "/dp/" + strings.ToUpper(m[1])
	}
	if m := flipkartItemRegex.FindStringSubmatch(u.Path); m != nil && strings.Contains(host, "flipkart.") {
		return host + "/p/" + strings.ToLower(m[1])
	}

	path := multiSlashRegex.ReplaceAllString(u.Path, "/")
	path = strings.TrimSuffix(strings.ToLower(path), "/")
	return host + path
}

// Fingerprint identifies one source listing.
func Fingerprint(source models.Source, rawURL string) string {
	normalized := NormalizeURL(rawURL)
	if normalized == "" {
		return ""
	}
	input := fmt.Sprintf("%s|%s", source, normalized)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// ProductFingerprints returns one fingerprint per monitored source.
func ProductFingerprints(p *models.Product) map[models.Source]string {
	out := make(map[models.Source]string)
	for _, source := range p.MonitoredSources() {
		if fp := Fingerprint(source, p.URL(source)); fp != "" {
			out[source] = fp
		}
	}
	return out
}

// Overlaps reports the first source both products list the same page for.
func Overlaps(a, b *models.Product) (models.Source, bool) {
	fa := ProductFingerprints(a)
	fb := ProductFingerprints(b)
	for _, source := range models.Sources {
		if fp, ok := fa[source]; ok && fp == fb[source] {
			return source, true
		}
	}
	return "", false
}
