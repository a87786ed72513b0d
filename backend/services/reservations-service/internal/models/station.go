package models

import "github.com/google/uuid"

// StationStatus is the operating state of a station.
type StationStatus string

const (
	StationActive      StationStatus = "active"
	StationMaintenance StationStatus = "maintenance"
	StationClosed      StationStatus = "closed"
)

// Station is a swap location.
type Station struct {
	ID       uuid.UUID     `db:"id" json:"id"`
	Name     string        `db:"name" json:"name"`
	Address  string        `db:"address" json:"address"`
	Capacity int           `db:"capacity" json:"capacity"`
	Status   StationStatus `db:"status" json:"status"`
}

// Vehicle is the driver's car as far as reservations care about it.
type Vehicle struct {
	ID           uuid.UUID `db:"id" json:"id"`
	OwnerID      uuid.UUID `db:"owner_id" json:"owner_id"`
	BatteryModel string    `db:"battery_model" json:"battery_model"`
}
