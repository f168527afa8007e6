// Package monitor runs price checks: fetch each source page, extract a
// price, compare with the stored one, record history and raise alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pricewatch/detector"
	"pricewatch/extractor"
	"pricewatch/history"
	"pricewatch/models"
	"pricewatch/storage"
)

// ErrNotFound is returned by CheckProduct for unknown product ids.
var ErrNotFound = fmt.Errorf("product %w", storage.ErrNotFound)

// Fetcher downloads the raw markup of a page.
type Fetcher interface {
	FetchDocument(ctx context.Context, url string) (string, error)
}

// SnapshotArchiver keeps pages whose price could not be extracted.
type SnapshotArchiver interface {
	Archive(ctx context.Context, productID string, source models.Source, document string) (string, error)
}

// LogFunc persists a monitor event, e.g. into the check_logs table.
type LogFunc func(level models.LogLevel, productID, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, productID, message string) {}

type Options struct {
	AlertThreshold float64
	// Concurrency bounds how many products a sweep checks at once.
	Concurrency int
	Archiver    SnapshotArchiver
	Log         LogFunc
	Now         func() time.Time
}

type Monitor struct {
	store     storage.Registry
	fetcher   Fetcher
	extractor *extractor.Extractor
	ledger    *history.Ledger
	opts      Options
	locks     *keyedMutex
}

// Result is the outcome of checking one product.
type Result struct {
	Product *models.Product `json:"product"`
	Alerts  []models.Alert  `json:"alerts"`
}

// SweepResult is the outcome of checking every product.
type SweepResult struct {
	Checked int            `json:"checked"`
	Failed  int            `json:"failed"`
	Alerts  []models.Alert `json:"alerts"`
}

func New(store storage.Registry, fetcher Fetcher, ext *extractor.Extractor, ledger *history.Ledger, opts Options) *Monitor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Log == nil {
		opts.Log = NoOpLogger
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{
		store:     store,
		fetcher:   fetcher,
		extractor: ext,
		ledger:    ledger,
		opts:      opts,
		locks:     newKeyedMutex(),
	}
}

// SetLogger installs the persisted event sink.
func (m *Monitor) SetLogger(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	m.opts.Log = fn
}

// CheckProduct checks every monitored source of one product.
func (m *Monitor) CheckProduct(ctx context.Context, id string) (*Result, error) {
	product, err := m.store.GetProduct(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return m.check(ctx, product)
}

// CheckAll checks every product. One product's failure never stops the
// sweep; it is counted in Failed.
func (m *Monitor) CheckAll(ctx context.Context) (*SweepResult, error) {
	products, err := m.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	results := make([]*Result, len(products))
	failures := make([]error, len(products))

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for i, p := range products {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			res, err := m.check(ctx, p)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	sweep := &SweepResult{Alerts: []models.Alert{}}
	for i, res := range results {
		if failures[i] != nil {
			sweep.Failed++
			log.Printf("[monitor] check %s failed: %v", products[i].ID, failures[i])
			m.opts.Log(models.LogLevelError, products[i].ID, fmt.Sprintf("check failed: %v", failures[i]))
			continue
		}
		sweep.Checked++
		sweep.Alerts = append(sweep.Alerts, res.Alerts...)
	}

	log.Printf("[monitor] sweep done: %d checked, %d failed, %d alerts", sweep.Checked, sweep.Failed, len(sweep.Alerts))
	return sweep, nil
}

// observation is what one source fetch produced.
type observation struct {
	source models.Source
	price  float64
	ok     bool
}

func (m *Monitor) check(ctx context.Context, product *models.Product) (*Result, error) {
	sources := product.MonitoredSources()
	observations := make([]observation, len(sources))

	// Fetching is the only blocking step, so it runs before taking the lock.
	var g errgroup.Group
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			observations[i] = m.observe(ctx, product.ID, source, product.URL(source))
			return nil
		})
	}
	g.Wait()

	unlock := m.locks.Lock(product.ID)
	defer unlock()

	current, err := m.store.GetProduct(ctx, product.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, product.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("reload product %s: %w", product.ID, err)
	}

	alerts := []models.Alert{}
	for _, obs := range observations {
		if !obs.ok {
			continue
		}
		if current.URL(obs.source) == "" {
			// URL removed while the fetch was in flight
			continue
		}
		alert, err := m.apply(ctx, current, obs.source, obs.price)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	return &Result{Product: current, Alerts: alerts}, nil
}

// observe fetches and extracts one source. Failures are logged and reported
// as a miss.
func (m *Monitor) observe(ctx context.Context, productID string, source models.Source, url string) observation {
	obs := observation{source: source}

	doc, err := m.fetcher.FetchDocument(ctx, url)
	if err != nil {
		log.Printf("[monitor] %s/%s: fetch failed: %v", productID, source, err)
		m.opts.Log(models.LogLevelWarn, productID, fmt.Sprintf("%s fetch failed: %v", source, err))
		return obs
	}

	price, ok := m.extractor.Extract(doc, source)
	if !ok {
		log.Printf("[monitor] %s/%s: no price found in page", productID, source)
		m.opts.Log(models.LogLevelWarn, productID, fmt.Sprintf("%s price not found", source))
		m.archive(ctx, productID, source, doc)
		return obs
	}

	obs.price = price
	obs.ok = true
	return obs
}

func (m *Monitor) archive(ctx context.Context, productID string, source models.Source, doc string) {
	if m.opts.Archiver == nil {
		return
	}
	key, err := m.opts.Archiver.Archive(ctx, productID, source, doc)
	if err != nil {
		log.Printf("[monitor] %s/%s: archive snapshot: %v", productID, source, err)
		return
	}
	log.Printf("[monitor] %s/%s: page archived at %s", productID, source, key)
}

// apply runs detection against the stored price, then stores the new price
// and appends history. Must be called with the product lock held.
func (m *Monitor) apply(ctx context.Context, product *models.Product, source models.Source, price float64) (*models.Alert, error) {
	now := m.opts.Now()

	var alert *models.Alert
	if old, ok := product.Price(source); ok {
		if draft, drop := detector.Evaluate(old, price, m.opts.AlertThreshold); drop {
			alert = &models.Alert{
				ID:            uuid.NewString(),
				ProductID:     product.ID,
				ProductName:   product.Name,
				Source:        source,
				OldPrice:      draft.OldPrice,
				NewPrice:      draft.NewPrice,
				PercentChange: draft.Rounded(),
				CreatedAt:     now,
			}
		}
	}

	// an alert is stored only once the baseline has moved
	if err := m.store.SetSourcePrice(ctx, product.ID, source, price, now); err != nil {
		return nil, m.storeErr(product.ID, fmt.Sprintf("update %s price", source), err)
	}
	if product.SourcePrices == nil {
		product.SourcePrices = make(map[models.Source]*float64)
	}
	product.SourcePrices[source] = models.Float64Ptr(price)
	product.UpdatedAt = now

	if alert != nil {
		if err := m.store.AddAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("store alert: %w", err)
		}
		log.Printf("[monitor] %s/%s: price drop %.2f -> %.2f (%.1f%%)", product.ID, source, alert.OldPrice, price, alert.PercentChange)
		m.opts.Log(models.LogLevelInfo, product.ID,
			fmt.Sprintf("%s price drop %.2f -> %.2f (%.1f%%)", source, alert.OldPrice, price, alert.PercentChange))
	}

	if _, err := m.ledger.Append(ctx, product.ID, source, price, now); err != nil {
		return nil, m.storeErr(product.ID, "append history", err)
	}

	return alert, nil
}

// storeErr reports a product that vanished mid-check as ErrNotFound.
func (m *Monitor) storeErr(productID, op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return fmt.Errorf("%s: %w", op, err)
}
