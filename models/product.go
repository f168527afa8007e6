package models

import "time"

// Source identifies a marketplace whose price is tracked independently.
type Source string

const (
	SourceAmazon   Source = "amazon"
	SourceFlipkart Source = "flipkart"
)

// Sources lists every supported source in declaration order.
var Sources = []Source{SourceAmazon, SourceFlipkart}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Product is a tracked item. SourcePrices holds the last known price per
// source and is only written by the monitor after a successful extraction.
type Product struct {
	ID           string              `json:"id" db:"id"`
	Name         string              `json:"name" db:"name"`
	Category     string              `json:"category" db:"category"`
	SourcePrices map[Source]*float64 `json:"sourcePrices" db:"source_prices"`
	SourceURLs   map[Source]string   `json:"sourceUrls" db:"source_urls"`
	CreatedAt    time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time           `json:"updatedAt" db:"updated_at"`
}

// Price returns the stored price for source, if any.
func (p *Product) Price(source Source) (float64, bool) {
	if p.SourcePrices == nil {
		return 0, false
	}
	v := p.SourcePrices[source]
	if v == nil {
		return 0, false
	}
	return *v, true
}

// URL returns the configured URL for source; empty means not monitored.
func (p *Product) URL(source Source) string {
	if p.SourceURLs == nil {
		return ""
	}
	return p.SourceURLs[source]
}

// MonitoredSources returns the sources with a URL, in declaration order.
func (p *Product) MonitoredSources() []Source {
	var out []Source
	for _, s := range Sources {
		if p.URL(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy so callers never share map or pointer state.
func (p *Product) Clone() *Product {
	c := *p
	c.SourcePrices = make(map[Source]*float64, len(p.SourcePrices))
	for k, v := range p.SourcePrices {
		if v == nil {
			c.SourcePrices[k] = nil
			continue
		}
		price := *v
		c.SourcePrices[k] = &price
	}
	c.SourceURLs = make(map[Source]string, len(p.SourceURLs))
	for k, v := range p.SourceURLs {
		c.SourceURLs[k] = v
	}
	return &c
}

// ProductPatch is a partial update applied by the CRUD layer. Nil fields are
// left untouched; a nil value inside a map clears that source's entry.
type ProductPatch struct {
	Name         *string             `json:"name,omitempty"`
	Category     *string             `json:"category,omitempty"`
	SourceURLs   map[Source]*string  `json:"sourceUrls,omitempty"`
	SourcePrices map[Source]*float64 `json:"sourcePrices,omitempty"`
}

// Apply mutates p according to the patch.
func (patch ProductPatch) Apply(p *Product, now time.Time) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if len(patch.SourceURLs) > 0 && p.SourceURLs == nil {
		p.SourceURLs = make(map[Source]string)
	}
	for s, u := range patch.SourceURLs {
		if u == nil || *u == "" {
			delete(p.SourceURLs, s)
			continue
		}
		p.SourceURLs[s] = *u
	}
	if len(patch.SourcePrices) > 0 && p.SourcePrices == nil {
		p.SourcePrices = make(map[Source]*float64)
	}
	for s, v := range patch.SourcePrices {
		if v == nil {
			delete(p.SourcePrices, s)
			continue
		}
		price := *v
		p.SourcePrices[s] = &price
	}
	p.UpdatedAt = now
}

// Float64Ptr is a small helper for building price maps.
func Float64Ptr(v float64) *float64 {
	return &v
}
