package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"batteryswap/backend/services/reservations-service/internal/models"
	"batteryswap/backend/services/reservations-service/internal/repository"
)

// AvailabilityQuery asks whether one more battery of Model can be promised at StationID.
type AvailabilityQuery struct {
	StationID   uuid.UUID
	Model       models.BatteryModel
	ScheduledAt time.Time
	Instant     bool
	// Ignore excludes one reservation from the competing set (used when rescheduling it).
	Ignore uuid.UUID
}

// Decision is the outcome of an admission check with the counts behind it.
type Decision struct {
	StationID        uuid.UUID           `json:"station_id"`
	Model            models.BatteryModel `json:"battery_model"`
	ScheduledAt      time.Time           `json:"scheduled_at"`
	Instant          bool                `json:"is_instant"`
	WindowStart      time.Time           `json:"window_start"`
	WindowEnd        time.Time           `json:"window_end"`
	Full             int                 `json:"full"`
	Charging         int                 `json:"charging"`
	ChargingCredited int                 `json:"charging_credited"`
	TotalAvailable   int                 `json:"total_available"`
	Reserved         int                 `json:"reserved"`
	Headroom         int                 `json:"headroom"`
	Admitted         bool                `json:"admitted"`
	Reason           Reason              `json:"reason,omitempty"`
	ModelsPresent    []string            `json:"models_present,omitempty"`
}

// Breakdown returns the counts for diagnostics.
func (d Decision) Breakdown() map[string]any {
	out := map[string]any{
		"full":              d.Full,
		"charging":          d.Charging,
		"charging_credited": d.ChargingCredited,
		"total_available":   d.TotalAvailable,
		"reserved":          d.Reserved,
		"headroom":          d.Headroom,
	}
	if d.Reason == ReasonNoSuchModel {
		out["models_present"] = d.ModelsPresent
	}
	return out
}

// Err converts a rejection into a conflict error; nil when admitted.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	switch d.Reason {
	case ReasonNoSuchModel:
		present := "none"
		if len(d.ModelsPresent) > 0 {
			present = strings.Join(d.ModelsPresent, ", ")
		}
		return conflictError(ReasonNoSuchModel,
			fmt.Sprintf("station has no batteries of model %q (available models: %s)", d.Model, present),
			d.Breakdown())
	default:
		msg := fmt.Sprintf("no %q battery available: full=%d charging=%d reserved=%d", d.Model, d.Full, d.ChargingCredited, d.Reserved)
		if d.Instant {
			msg = fmt.Sprintf("no %q battery available for instant pickup: full=%d reserved=%d", d.Model, d.Full, d.Reserved)
		}
		return conflictError(ReasonNoAvailability, msg, d.Breakdown())
	}
}

// Calculator decides admission from an inventory snapshot and the competing reservations.
type Calculator struct {
	policy Policy
}

// NewCalculator returns a calculator applying policy.
func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy.withDefaults()}
}

// Window returns the closed interval in which reservations compete with q.
func (c *Calculator) Window(q AvailabilityQuery, now time.Time) (time.Time, time.Time) {
	if q.Instant {
		return now, now.Add(c.policy.InstantWindow)
	}
	return q.ScheduledAt.Add(-c.policy.CompetingWindow), q.ScheduledAt.Add(c.policy.CompetingWindow)
}

// Evaluate reads the snapshot and competing reservations through reader and decides.
// Pass the transaction that will insert the reservation so the reads and the write are atomic.
func (c *Calculator) Evaluate(ctx context.Context, reader repository.InventoryReader, q AvailabilityQuery, now time.Time) (Decision, error) {
	snap, err := ReadSnapshot(ctx, reader, q.StationID, q.Model)
	if err != nil {
		return Decision{}, fmt.Errorf("read inventory: %w", err)
	}
	if snap.Total() == 0 {
		return c.Assess(snap, nil, q, now), nil
	}

	from, to := c.Window(q, now)
	competing, err := reader.ListReservations(ctx, repository.ReservationQuery{
		StationID:   q.StationID,
		From:        from,
		To:          to,
		Statuses:    models.HoldingStatuses(),
		InstantOnly: q.Instant,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("list competing reservations: %w", err)
	}
	return c.Assess(snap, competing, q, now), nil
}

// Assess is the pure admission rule.
func (c *Calculator) Assess(snap Snapshot, competing []models.Reservation, q AvailabilityQuery, now time.Time) Decision {
	from, to := c.Window(q, now)
	d := Decision{
		StationID:     q.StationID,
		Model:         q.Model,
		ScheduledAt:   q.ScheduledAt,
		Instant:       q.Instant,
		WindowStart:   from,
		WindowEnd:     to,
		ModelsPresent: snap.ModelsPresent,
	}

	if snap.Total() == 0 {
		d.Reason = ReasonNoSuchModel
		return d
	}

	d.Full = snap.Count(models.BatteryFull)
	d.Charging = snap.Count(models.BatteryCharging)
	if !q.Instant && q.ScheduledAt.Sub(now) >= c.policy.ChargingCreditLead {
		d.ChargingCredited = d.Charging
	}
	d.TotalAvailable = d.Full + d.ChargingCredited

	for _, r := range competing {
		if r.ID == q.Ignore && q.Ignore != uuid.Nil {
			continue
		}
		if !r.Status.Holding() || r.Model() != q.Model {
			continue
		}
		if q.Instant && !r.IsInstant {
			continue
		}
		if r.ScheduledAt.Before(from) || r.ScheduledAt.After(to) {
			continue
		}
		d.Reserved++
	}

	d.Headroom = d.TotalAvailable - d.Reserved
	d.Admitted = d.Headroom > 0
	if !d.Admitted {
		d.Reason = ReasonNoAvailability
	}
	return d
}
