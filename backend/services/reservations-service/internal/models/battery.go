package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BatteryModel is a battery model name normalized for comparison (trimmed, lower case).
// The raw text a driver or operator typed is kept on the owning record; BatteryModel is
// what gets compared.
type BatteryModel string

// NewBatteryModel normalizes free-text model input.
func NewBatteryModel(raw string) BatteryModel {
	return BatteryModel(strings.ToLower(strings.TrimSpace(raw)))
}

// Matches reports whether raw names the same model.
func (m BatteryModel) Matches(raw string) bool {
	return m == NewBatteryModel(raw)
}

// IsZero reports whether the model is empty after normalization.
func (m BatteryModel) IsZero() bool {
	return m == ""
}

func (m BatteryModel) String() string {
	return string(m)
}

// BatteryStatus is the physical state of a battery.
type BatteryStatus string

const (
	BatteryFull        BatteryStatus = "full"
	BatteryCharging    BatteryStatus = "charging"
	BatteryInUse       BatteryStatus = "in_use"
	BatteryLow         BatteryStatus = "low"
	BatteryMaintenance BatteryStatus = "maintenance"
	BatteryDamaged     BatteryStatus = "damaged"
)

// Battery is a physical unit owned by a station.
type Battery struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	StationID   uuid.UUID     `db:"station_id" json:"station_id"`
	Model       string        `db:"model" json:"model"`
	Status      BatteryStatus `db:"status" json:"status"`
	ChargeLevel int           `db:"charge_level" json:"charge_level"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}
