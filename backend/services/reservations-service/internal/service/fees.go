package service

import (
	"time"

	"batteryswap/backend/services/reservations-service/internal/models"
)

// FeePolicy prices a cancellation in wallet minor units.
type FeePolicy interface {
	CancellationFee(r *models.Reservation, now time.Time) int64
}

// FlatFeePolicy charges the same amount for every allowed cancellation.
// The production amount is 0 until a business rule for late fees exists.
type FlatFeePolicy struct {
	Amount int64
}

// CancellationFee implements FeePolicy.
func (p FlatFeePolicy) CancellationFee(*models.Reservation, time.Time) int64 {
	if p.Amount < 0 {
		return 0
	}
	return p.Amount
}

// FeePolicyFunc adapts a function to FeePolicy.
type FeePolicyFunc func(r *models.Reservation, now time.Time) int64

// CancellationFee implements FeePolicy.
func (f FeePolicyFunc) CancellationFee(r *models.Reservation, now time.Time) int64 {
	return f(r, now)
}
