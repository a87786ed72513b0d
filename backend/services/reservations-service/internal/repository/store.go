package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"batteryswap/backend/services/reservations-service/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateCode is returned when a reservation code is already taken.
	ErrDuplicateCode = errors.New("repository: duplicate reservation code")
	// ErrInsufficientFunds is returned when a debit would make a wallet negative.
	ErrInsufficientFunds = errors.New("repository: insufficient wallet balance")
)

// ReservationQuery selects reservations at one station whose scheduled_at lies in
// [From, To], both ends inclusive.
type ReservationQuery struct {
	StationID   uuid.UUID
	From        time.Time
	To          time.Time
	Statuses    []models.ReservationStatus
	InstantOnly bool
}

func (q ReservationQuery) matches(r models.Reservation) bool {
	if r.StationID != q.StationID {
		return false
	}
	if r.ScheduledAt.Before(q.From) || r.ScheduledAt.After(q.To) {
		return false
	}
	if q.InstantOnly && !r.IsInstant {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, st := range q.Statuses {
		if r.Status == st {
			return true
		}
	}
	return false
}

// InventoryReader is the read surface the availability calculation needs. Both Store and
// Tx implement it so admission can run inside the same transaction as the insert.
type InventoryReader interface {
	ListBatteries(ctx context.Context, stationID uuid.UUID) ([]models.Battery, error)
	ListReservations(ctx context.Context, q ReservationQuery) ([]models.Reservation, error)
}

// Tx is the write surface available inside WithinTx.
type Tx interface {
	InventoryReader
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	// LockReservation loads a reservation and holds it until the transaction ends.
	LockReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	// EnsureWallet creates a zero balance wallet when missing and locks it.
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	DebitWallet(ctx context.Context, entry *models.WalletTransaction) (*models.Wallet, error)
}

// Store is the persistence contract of the reservations service.
type Store interface {
	InventoryReader
	GetStation(ctx context.Context, id uuid.UUID) (*models.Station, error)
	GetVehicle(ctx context.Context, id, ownerID uuid.UUID) (*models.Vehicle, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ListUserReservations(ctx context.Context, userID uuid.UUID, limit int) ([]models.Reservation, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// WithinTx runs fn atomically. A non-empty lockKey serializes all transactions
	// sharing that key for their whole duration.
	WithinTx(ctx context.Context, lockKey string, fn func(tx Tx) error) error
}

func statusStrings(statuses []models.ReservationStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}
