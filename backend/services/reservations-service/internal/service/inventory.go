package service

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"batteryswap/backend/services/reservations-service/internal/models"
	"batteryswap/backend/services/reservations-service/internal/repository"
)

// Snapshot is the battery count of one model at one station, per status.
type Snapshot struct {
	StationID uuid.UUID
	Model     models.BatteryModel
	Counts    map[models.BatteryStatus]int
	// ModelsPresent lists every distinct model at the station, whatever was asked for.
	ModelsPresent []string
}

// Count returns the number of batteries of the model in status.
func (s Snapshot) Count(status models.BatteryStatus) int {
	return s.Counts[status]
}

// Total returns the number of batteries of the model in any status.
func (s Snapshot) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// ReadSnapshot loads the batteries of a station and counts those of model by status.
func ReadSnapshot(ctx context.Context, reader repository.InventoryReader, stationID uuid.UUID, model models.BatteryModel) (Snapshot, error) {
	batteries, err := reader.ListBatteries(ctx, stationID)
	if err != nil {
		return Snapshot{}, err
	}
	return buildSnapshot(stationID, model, batteries), nil
}

func buildSnapshot(stationID uuid.UUID, model models.BatteryModel, batteries []models.Battery) Snapshot {
	snap := Snapshot{
		StationID: stationID,
		Model:     model,
		Counts:    make(map[models.BatteryStatus]int),
	}
	seen := make(map[models.BatteryModel]struct{})
	for _, b := range batteries {
		bm := models.NewBatteryModel(b.Model)
		if _, ok := seen[bm]; !ok && !bm.IsZero() {
			seen[bm] = struct{}{}
			snap.ModelsPresent = append(snap.ModelsPresent, strings.TrimSpace(b.Model))
		}
		if bm == model {
			snap.Counts[b.Status]++
		}
	}
	sort.Strings(snap.ModelsPresent)
	return snap
}
