// Package history maintains the per-product price timeline.
package history

import (
	"context"
	"fmt"
	"time"

	"pricewatch/models"
	"pricewatch/storage"
)

// Ledger appends observed prices to product timelines. Callers serialise
// appends for the same product; the monitor holds a per-product lock.
type Ledger struct {
	store  storage.Registry
	window time.Duration
}

// NewLedger builds a ledger whose entries absorb updates from other sources
// arriving within window of the entry's timestamp. A non-positive window
// merges regardless of age.
func NewLedger(store storage.Registry, window time.Duration) *Ledger {
	return &Ledger{store: store, window: window}
}

// Merge reports whether an update for source at ts belongs in latest rather
// than a new entry. An entry that already holds a value for source is never
// overwritten.
func Merge(latest *models.HistoryEntry, source models.Source, ts time.Time, window time.Duration) bool {
	if latest == nil || latest.Has(source) {
		return false
	}
	if window <= 0 {
		return true
	}
	return ts.Sub(latest.Timestamp) <= window
}

// Append records price for source and returns the entry it landed in.
func (l *Ledger) Append(ctx context.Context, productID string, source models.Source, price float64, ts time.Time) (models.HistoryEntry, error) {
	latest, err := l.store.LatestHistoryEntry(ctx, productID)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("latest history entry: %w", err)
	}

	if Merge(latest, source, ts, l.window) {
		latest.Prices[source] = price
		if err := l.store.UpdateHistoryEntry(ctx, latest); err != nil {
			return models.HistoryEntry{}, fmt.Errorf("merge history entry: %w", err)
		}
		return *latest, nil
	}

	// keep the timeline non-decreasing even if the clock steps back
	if latest != nil && ts.Before(latest.Timestamp) {
		ts = latest.Timestamp
	}

	entry := models.HistoryEntry{
		ProductID: productID,
		Timestamp: ts,
		Prices:    map[models.Source]float64{source: price},
	}
	if err := l.store.InsertHistoryEntry(ctx, &entry); err != nil {
		return models.HistoryEntry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return entry, nil
}

// Seed writes the initial entry for a new product. Nothing is written when
// no source has a price yet.
func (l *Ledger) Seed(ctx context.Context, productID string, prices map[models.Source]*float64, ts time.Time) error {
	entry := models.HistoryEntry{
		ProductID: productID,
		Timestamp: ts,
		Prices:    make(map[models.Source]float64),
	}
	for _, source := range models.Sources {
		if v := prices[source]; v != nil && *v > 0 {
			entry.Prices[source] = *v
		}
	}
	if len(entry.Prices) == 0 {
		return nil
	}
	return l.store.InsertHistoryEntry(ctx, &entry)
}

// Timeline returns the product's entries in order; unknown products yield an
// empty slice.
func (l *Ledger) Timeline(ctx context.Context, productID string) ([]models.HistoryEntry, error) {
	entries, err := l.store.History(ctx, productID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

// Discard drops the whole timeline of a product.
func (l *Ledger) Discard(ctx context.Context, productID string) error {
	return l.store.DeleteHistory(ctx, productID)
}
