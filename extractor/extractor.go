// Package extractor pulls a monetary value out of product page markup using
// an ordered chain of rules per source.
package extractor

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/config"
	"pricewatch/models"
)

// Rule tries to read a positive price from a parsed page.
type Rule func(doc *goquery.Document) (float64, bool)

// SelectorRule takes the first node matching selector and parses its text.
func SelectorRule(selector string) Rule {
	return func(doc *goquery.Document) (float64, bool) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return 0, false
		}
		return ParsePrice(sel.Text())
	}
}

var jsonLDPricePattern = regexp.MustCompile(`"price"\s*:\s*"?([\d,]+(?:\.\d+)?)"?`)

// JSONLDRule reads "price" from application/ld+json blocks.
func JSONLDRule() Rule {
	return func(doc *goquery.Document) (float64, bool) {
		var (
			price float64
			found bool
		)
		doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			m := jsonLDPricePattern.FindStringSubmatch(s.Text())
			if len(m) < 2 {
				return true
			}
			price, found = ParsePrice(m[1])
			return !found
		})
		return price, found
	}
}

// ParsePrice keeps only digits and decimal points and parses the remainder.
// Only positive values are reported.
func ParsePrice(text string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0, false
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// DefaultSelectors are the built-in rule chains, highest priority first.
var DefaultSelectors = map[models.Source][]string{
	models.SourceAmazon: {
		".a-price-whole",
		"#priceblock_ourprice",
		"#priceblock_dealprice",
		".a-price .a-offscreen",
		"#price_inside_buybox",
	},
	models.SourceFlipkart: {
		"._30jeq3._16Jk6d",
		"._30jeq3",
		".CEmiEU div",
		"._1vC4OE",
	},
}

type Extractor struct {
	rules map[models.Source][]Rule
}

func New(rules map[models.Source][]Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Default builds an Extractor from DefaultSelectors with the JSON-LD fallback.
func Default() *Extractor {
	rules := make(map[models.Source][]Rule, len(DefaultSelectors))
	for source, selectors := range DefaultSelectors {
		rules[source] = selectorRules(selectors, true)
	}
	return New(rules)
}

// FromConfig starts from the defaults and replaces the chain of every source
// that has a config file.
func FromConfig(sources map[string]*config.SourceConfig) *Extractor {
	ext := Default()
	for id, src := range sources {
		source := models.Source(id)
		if !source.Valid() {
			log.Printf("[extractor] ignoring rules for unknown source %q", id)
			continue
		}
		if len(src.Selectors) == 0 && !src.JSONLD {
			continue
		}
		ext.rules[source] = selectorRules(src.Selectors, src.JSONLD)
	}
	return ext
}

func selectorRules(selectors []string, jsonLD bool) []Rule {
	rules := make([]Rule, 0, len(selectors)+1)
	for _, s := range selectors {
		rules = append(rules, SelectorRule(s))
	}
	if jsonLD {
		rules = append(rules, JSONLDRule())
	}
	return rules
}

// Extract returns the first positive price produced by the source's rules.
// A miss is a normal outcome, not an error.
func (e *Extractor) Extract(document string, source models.Source) (float64, bool) {
	rules := e.rules[source]
	if len(rules) == 0 || strings.TrimSpace(document) == "" {
		return 0, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return 0, false
	}

	for _, rule := range rules {
		if price, ok := rule(doc); ok {
			return price, true
		}
	}
	return 0, false
}

// RuleCount reports how many rules are configured for source.
func (e *Extractor) RuleCount(source models.Source) int {
	return len(e.rules[source])
}
