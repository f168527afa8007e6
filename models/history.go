package models

import "time"

// HistoryEntry is one point in a product's price timeline. Prices may be
// partial: not every source reports at every timestamp.
type HistoryEntry struct {
	ID        int64              `json:"id" db:"id"`
	ProductID string             `json:"productId" db:"product_id"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
	Prices    map[Source]float64 `json:"pricesBySource" db:"prices"`
}

// Has reports whether the entry already carries a value for source.
func (e *HistoryEntry) Has(source Source) bool {
	_, ok := e.Prices[source]
	return ok
}
