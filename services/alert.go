package services

import (
	"context"

	"pricewatch/models"
	"pricewatch/storage"
)

// AlertService exposes the alert store to callers outside the monitor.
type AlertService struct {
	store storage.Registry
}

func NewAlertService(store storage.Registry) *AlertService {
	return &AlertService{store: store}
}

// List returns alerts in insertion order.
func (s *AlertService) List(ctx context.Context) ([]models.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

// Clear removes one alert; unknown ids return storage.ErrNotFound.
func (s *AlertService) Clear(ctx context.Context, id string) error {
	return s.store.DeleteAlert(ctx, id)
}
