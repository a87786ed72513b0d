package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batteryswap/backend/services/reservations-service/internal/models"
	"batteryswap/backend/services/reservations-service/internal/repository"
)

var testNow = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func snapshotOf(stationID uuid.UUID, model string, counts map[models.BatteryStatus]int) Snapshot {
	return Snapshot{
		StationID:     stationID,
		Model:         models.NewBatteryModel(model),
		Counts:        counts,
		ModelsPresent: []string{model},
	}
}

func TestAssessCompetingWindowBoundaries(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())
	stationID := uuid.New()
	scheduled := testNow.Add(3 * time.Hour)
	snap := snapshotOf(stationID, "G2", map[models.BatteryStatus]int{models.BatteryFull: 1})

	cases := []struct {
		name     string
		offset   time.Duration
		admitted bool
	}{
		{name: "inside before", offset: -(29*time.Minute + 59*time.Second), admitted: false},
		{name: "exact lower edge", offset: -30 * time.Minute, admitted: false},
		{name: "exact upper edge", offset: 30 * time.Minute, admitted: false},
		{name: "outside after", offset: 30*time.Minute + time.Second, admitted: true},
		{name: "outside before", offset: -(30*time.Minute + time.Second), admitted: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			competing := []models.Reservation{{
				ID:           uuid.New(),
				StationID:    stationID,
				BatteryModel: "g2",
				ScheduledAt:  scheduled.Add(tc.offset),
				Status:       models.ReservationPending,
			}}
			d := calc.Assess(snap, competing, AvailabilityQuery{
				StationID:   stationID,
				Model:       models.NewBatteryModel("G2"),
				ScheduledAt: scheduled,
			}, testNow)
			assert.Equal(t, tc.admitted, d.Admitted)
		})
	}
}

func TestAssessChargingCreditNeedsOneHourLead(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())
	stationID := uuid.New()
	snap := snapshotOf(stationID, "G2", map[models.BatteryStatus]int{models.BatteryCharging: 1})
	query := func(lead time.Duration) AvailabilityQuery {
		return AvailabilityQuery{StationID: stationID, Model: "g2", ScheduledAt: testNow.Add(lead)}
	}

	d := calc.Assess(snap, nil, query(59*time.Minute+59*time.Second), testNow)
	assert.False(t, d.Admitted)
	assert.Equal(t, ReasonNoAvailability, d.Reason)
	assert.Zero(t, d.ChargingCredited)

	d = calc.Assess(snap, nil, query(60*time.Minute+time.Second), testNow)
	assert.True(t, d.Admitted)
	assert.Equal(t, 1, d.ChargingCredited)
	assert.Equal(t, 1, d.TotalAvailable)

	d = calc.Assess(snap, nil, query(time.Hour), testNow)
	assert.True(t, d.Admitted, "exactly one hour of lead credits charging batteries")
}

func TestAssessIgnoresOtherModelsAndReleasedReservations(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())
	stationID := uuid.New()
	scheduled := testNow.Add(2 * time.Hour)
	snap := snapshotOf(stationID, "G2", map[models.BatteryStatus]int{models.BatteryFull: 1})
	self := uuid.New()

	competing := []models.Reservation{
		{ID: uuid.New(), BatteryModel: "G3", ScheduledAt: scheduled, Status: models.ReservationPending},
		{ID: uuid.New(), BatteryModel: "G2", ScheduledAt: scheduled, Status: models.ReservationCancelled},
		{ID: uuid.New(), BatteryModel: "G2", ScheduledAt: scheduled, Status: models.ReservationCompleted},
		{ID: self, BatteryModel: "G2", ScheduledAt: scheduled, Status: models.ReservationPending},
	}
	d := calc.Assess(snap, competing, AvailabilityQuery{
		StationID:   stationID,
		Model:       "g2",
		ScheduledAt: scheduled,
		Ignore:      self,
	}, testNow)
	assert.True(t, d.Admitted)
	assert.Zero(t, d.Reserved)
}

func TestAssessInstantPath(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())
	stationID := uuid.New()
	snap := snapshotOf(stationID, "G2", map[models.BatteryStatus]int{
		models.BatteryFull:     1,
		models.BatteryCharging: 4,
	})
	q := AvailabilityQuery{StationID: stationID, Model: "g2", ScheduledAt: testNow.Add(15 * time.Minute), Instant: true}

	scheduledBooking := models.Reservation{ID: uuid.New(), BatteryModel: "G2", ScheduledAt: testNow.Add(10 * time.Minute), Status: models.ReservationConfirmed}
	d := calc.Assess(snap, []models.Reservation{scheduledBooking}, q, testNow)
	assert.True(t, d.Admitted, "scheduled bookings do not compete on the instant path")
	assert.Zero(t, d.ChargingCredited)
	assert.Equal(t, testNow, d.WindowStart)
	assert.Equal(t, testNow.Add(15*time.Minute), d.WindowEnd)

	instantBooking := models.Reservation{ID: uuid.New(), BatteryModel: "G2", ScheduledAt: testNow.Add(15 * time.Minute), IsInstant: true, Status: models.ReservationPending}
	d = calc.Assess(snap, []models.Reservation{instantBooking}, q, testNow)
	assert.False(t, d.Admitted)
	assert.Equal(t, ReasonNoAvailability, d.Reason)
	require.Error(t, d.Err())
	assert.Contains(t, d.Err().Error(), "instant pickup")
}

func TestEvaluateReportsModelsPresent(t *testing.T) {
	store := repository.NewMemoryStore()
	stationID := uuid.New()
	store.AddBattery(models.Battery{StationID: stationID, Model: " G3 ", Status: models.BatteryFull})
	store.AddBattery(models.Battery{StationID: stationID, Model: "Aion", Status: models.BatteryCharging})
	store.AddBattery(models.Battery{StationID: stationID, Model: "G3", Status: models.BatteryLow})

	d, err := NewCalculator(DefaultPolicy()).Evaluate(context.Background(), store, AvailabilityQuery{
		StationID:   stationID,
		Model:       models.NewBatteryModel("G2"),
		ScheduledAt: testNow.Add(2 * time.Hour),
	}, testNow)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, ReasonNoSuchModel, d.Reason)
	assert.Equal(t, []string{"Aion", "G3"}, d.ModelsPresent)

	err = d.Err()
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, ReasonNoSuchModel, ReasonOf(err))
	assert.Contains(t, err.Error(), "Aion, G3")
}

func TestEvaluateCountsOnlyMatchingStatuses(t *testing.T) {
	store := repository.NewMemoryStore()
	stationID := uuid.New()
	for _, status := range []models.BatteryStatus{
		models.BatteryFull,
		models.BatteryInUse,
		models.BatteryLow,
		models.BatteryMaintenance,
		models.BatteryDamaged,
	} {
		store.AddBattery(models.Battery{StationID: stationID, Model: "G2", Status: status})
	}

	d, err := NewCalculator(DefaultPolicy()).Evaluate(context.Background(), store, AvailabilityQuery{
		StationID:   stationID,
		Model:       "g2",
		ScheduledAt: testNow.Add(2 * time.Hour),
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Full)
	assert.Equal(t, 1, d.TotalAvailable)
	assert.True(t, d.Admitted)
}
