package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricewatch/history"
	"pricewatch/identity"
	"pricewatch/models"
	"pricewatch/storage"
)

var (
	// ErrDuplicate means another product already monitors the same page.
	ErrDuplicate = errors.New("duplicate product")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid product")
)

// ProductInput is the payload for creating a product.
type ProductInput struct {
	Name         string                     `json:"name"`
	Category     string                     `json:"category"`
	SourceURLs   map[models.Source]string   `json:"sourceUrls"`
	SourcePrices map[models.Source]*float64 `json:"sourcePrices"`
}

// ProductService owns product lifecycle: creation with history seeding,
// updates, and deletion together with the timeline.
type ProductService struct {
	store  storage.Registry
	ledger *history.Ledger
	now    func() time.Time

	// serialises the duplicate check with the write that follows it
	mu sync.Mutex
}

func NewProductService(store storage.Registry, ledger *history.Ledger) *ProductService {
	return &ProductService{
		store:  store,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ProductService) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := validateSources(in.SourceURLs, in.SourcePrices); err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Product{
		ID:           uuid.NewString(),
		Name:         name,
		Category:     strings.TrimSpace(in.Category),
		SourcePrices: make(map[models.Source]*float64),
		SourceURLs:   make(map[models.Source]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for source, u := range in.SourceURLs {
		if u = strings.TrimSpace(u); u != "" {
			p.SourceURLs[source] = u
		}
	}
	for source, v := range in.SourcePrices {
		if v != nil {
			p.SourcePrices[source] = models.Float64Ptr(*v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDuplicate(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	if err := s.ledger.Seed(ctx, p.ID, p.SourcePrices, now); err != nil {
		// the product exists; a missing seed only shortens its timeline
		log.Printf("[products] seed history for %s: %v", p.ID, err)
	}

	log.Printf("[products] created %s (%s)", p.ID, p.Name)
	return p, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *ProductService) List(ctx context.Context) ([]*models.Product, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []*models.Product{}
	}
	return products, nil
}

func (s *ProductService) Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalid)
	}
	urls := make(map[models.Source]string, len(patch.SourceURLs))
	for source, u := range patch.SourceURLs {
		if u != nil {
			urls[source] = *u
		}
	}
	if err := validateSources(urls, patch.SourcePrices); err != nil {
		return nil, err
	}
	for source := range patch.SourceURLs {
		if !source.Valid() {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalid, source)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(patch.SourceURLs) > 0 {
		current, err := s.store.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		patch.Apply(current, s.now())
		if err := s.checkDuplicate(ctx, current); err != nil {
			return nil, err
		}
	}

	p, err := s.store.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	log.Printf("[products] updated %s", id)
	return p, nil
}

// Delete removes the product and its whole timeline.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	log.Printf("[products] deleted %s", id)
	return nil
}

// History returns the product's timeline, empty for unknown ids.
func (s *ProductService) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return s.ledger.Timeline(ctx, id)
}

func (s *ProductService) checkDuplicate(ctx context.Context, p *models.Product) error {
	existing, err := s.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	for _, other := range existing {
		if other.ID == p.ID {
			continue
		}
		if source, ok := identity.Overlaps(p, other); ok {
			return fmt.Errorf("%w: %s page already monitored by %s", ErrDuplicate, source, other.ID)
		}
	}
	return nil
}

func validateSources(urls map[models.Source]string, prices map[models.Source]*float64) error {
	for source := range urls {
		if !source.Valid() {
			return fmt.Errorf("%w: unknown source %q", ErrInvalid, source)
		}
	}
	for source, v := range prices {
		if !source.Valid() {
			return fmt.Errorf("%w: unknown source %q", ErrInvalid, source)
		}
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s price must be positive", ErrInvalid, source)
		}
	}
	return nil
}
