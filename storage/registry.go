package storage

import (
	"context"
	"errors"
	"time"

	"pricewatch/models"
)

// ErrNotFound is returned when a product, alert or command does not exist.
var ErrNotFound = errors.New("not found")

// Registry is the process-wide owner of products, their price history and
// emitted alerts. Implementations must be safe for concurrent use.
type Registry interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]*models.Product, error)
	UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
	SetSourcePrice(ctx context.Context, id string, source models.Source, price float64, at time.Time) error
	// DeleteProduct removes the product and its entire history as one unit.
	DeleteProduct(ctx context.Context, id string) error

	LatestHistoryEntry(ctx context.Context, productID string) (*models.HistoryEntry, error)
	// InsertHistoryEntry returns ErrNotFound when the product no longer exists.
	InsertHistoryEntry(ctx context.Context, e *models.HistoryEntry) error
	UpdateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error
	History(ctx context.Context, productID string) ([]models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, productID string) error

	AddAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context) ([]models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error

	Close() error
}

func cloneEntry(e models.HistoryEntry) models.HistoryEntry {
	prices := make(map[models.Source]float64, len(e.Prices))
	for k, v := range e.Prices {
		prices[k] = v
	}
	e.Prices = prices
	return e
}
