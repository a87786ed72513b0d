package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:   {ReservationConfirmed, ReservationCancelled},
	ReservationConfirmed: {ReservationCompleted, ReservationCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Holding reports whether a reservation in this state still claims a battery.
func (s ReservationStatus) Holding() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Terminal reports whether no transition leaves this state.
func (s ReservationStatus) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// HoldingStatuses lists the states counted against availability.
func HoldingStatuses() []ReservationStatus {
	return []ReservationStatus{ReservationPending, ReservationConfirmed}
}

// Reservation is a driver's claim on one battery of a model at a station.
type Reservation struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	Code         string            `db:"code" json:"code"`
	UserID       uuid.UUID         `db:"user_id" json:"user_id"`
	VehicleID    uuid.UUID         `db:"vehicle_id" json:"vehicle_id"`
	StationID    uuid.UUID         `db:"station_id" json:"station_id"`
	BatteryModel string            `db:"battery_model" json:"battery_model"`
	ScheduledAt  time.Time         `db:"scheduled_at" json:"scheduled_at"`
	IsInstant    bool              `db:"is_instant" json:"is_instant"`
	Status       ReservationStatus `db:"status" json:"status"`
	Notes        string            `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
	CancelledAt  *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Model returns the normalized battery model of the reservation.
func (r *Reservation) Model() BatteryModel {
	return NewBatteryModel(r.BatteryModel)
}

// ReservationEventType names a lifecycle event.
type ReservationEventType string

const (
	EventReservationCreated   ReservationEventType = "reservation.created"
	EventReservationUpdated   ReservationEventType = "reservation.updated"
	EventReservationCancelled ReservationEventType = "reservation.cancelled"
	EventReservationConfirmed ReservationEventType = "reservation.confirmed"
	EventReservationCompleted ReservationEventType = "reservation.completed"
)

// ReservationEvent is published after a reservation change commits.
type ReservationEvent struct {
	Type        ReservationEventType `json:"type"`
	Reservation Reservation          `json:"reservation"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// FeedReservation is the part of a reservation shown on station event feeds.
type FeedReservation struct {
	ID           uuid.UUID         `json:"id"`
	BatteryModel string            `json:"battery_model"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	IsInstant    bool              `json:"is_instant"`
	Status       ReservationStatus `json:"status"`
}

// FeedEvent is what station feeds receive. Booking codes and owner details stay out of it.
type FeedEvent struct {
	Type        ReservationEventType `json:"type"`
	Reservation FeedReservation      `json:"reservation"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// Feed returns the redacted form of e.
func (e ReservationEvent) Feed() FeedEvent {
	return FeedEvent{
		Type: e.Type,
		Reservation: FeedReservation{
			ID:           e.Reservation.ID,
			BatteryModel: e.Reservation.BatteryModel,
			ScheduledAt:  e.Reservation.ScheduledAt,
			IsInstant:    e.Reservation.IsInstant,
			Status:       e.Reservation.Status,
		},
		OccurredAt: e.OccurredAt,
	}
}
