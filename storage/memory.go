package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pricewatch/models"
)

var _ Registry = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. It is the default registry
// when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	order    []string
	history  map[string][]models.HistoryEntry
	alerts   []models.Alert
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*models.Product),
		history:  make(map[string][]models.HistoryEntry),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; exists {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	s.products[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.products[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(p, time.Now().UTC())
	return p.Clone(), nil
}

func (s *MemoryStore) SetSourcePrice(_ context.Context, id string, source models.Source, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.SourcePrices == nil {
		p.SourcePrices = make(map[models.Source]*float64)
	}
	p.SourcePrices[source] = models.Float64Ptr(price)
	p.UpdatedAt = at
	return nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	delete(s.history, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) LatestHistoryEntry(_ context.Context, productID string) (*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[productID]
	if len(entries) == 0 {
		return nil, nil
	}
	e := cloneEntry(entries[len(entries)-1])
	return &e, nil
}

func (s *MemoryStore) InsertHistoryEntry(_ context.Context, e *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[e.ProductID]; !ok {
		return ErrNotFound
	}
	s.nextID++
	e.ID = s.nextID
	s.history[e.ProductID] = append(s.history[e.ProductID], cloneEntry(*e))
	return nil
}

func (s *MemoryStore) UpdateHistoryEntry(_ context.Context, e *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[e.ProductID]
	for i := range entries {
		if entries[i].ID == e.ID {
			entries[i].Prices = cloneEntry(*e).Prices
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) History(_ context.Context, productID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[productID]
	out := make([]models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *MemoryStore) DeleteHistory(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, productID)
	return nil
}

func (s *MemoryStore) AddAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *MemoryStore) ListAlerts(_ context.Context) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out, nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.alerts {
		if a.ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
