package service

import (
	"context"
	"errors"

	"batteryswap/backend/services/reservations-service/internal/models"
)

// Notifier delivers reservation events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event models.ReservationEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event models.ReservationEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event models.ReservationEvent) error {
	return f(ctx, event)
}

// MultiNotifier fans an event out to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, event models.ReservationEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
