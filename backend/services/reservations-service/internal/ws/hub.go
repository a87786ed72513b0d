package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/models"
)

// Hub tracks event feed subscribers per station.
type Hub struct {
	mu           sync.RWMutex
	stations     map[string]map[*Connection]struct{}
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(pingInterval time.Duration, logger *zap.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		stations:     make(map[string]map[*Connection]struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Add registers a subscriber.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.stations[conn.StationID()]
	if !ok {
		subs = make(map[*Connection]struct{})
		h.stations[conn.StationID()] = subs
	}
	subs[conn] = struct{}{}
}

// Remove drops a subscriber.
func (h *Hub) Remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.stations[conn.StationID()]
	delete(subs, conn)
	if len(subs) == 0 {
		delete(h.stations, conn.StationID())
	}
}

// Count returns the number of subscribers of a station.
func (h *Hub) Count(stationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stations[stationID])
}

// Broadcast queues payload for every subscriber of stationID and returns how many accepted it.
func (h *Hub) Broadcast(stationID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for conn := range h.stations[stationID] {
		if conn.Send(payload) {
			delivered++
		}
	}
	return delivered
}

// Notify broadcasts the redacted reservation event to the station feed.
func (h *Hub) Notify(_ context.Context, event models.ReservationEvent) error {
	payload, err := json.Marshal(event.Feed())
	if err != nil {
		return err
	}
	h.Broadcast(event.Reservation.StationID.String(), payload)
	return nil
}

// Start pings every subscriber until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range h.snapshot() {
				if err := conn.Ping(); err != nil {
					h.logger.Debug("ping failed", zap.String("station_id", conn.StationID()), zap.Error(err))
				}
			}
		}
	}
}

// snapshot copies the subscriber set so slow pings do not hold the lock.
func (h *Hub) snapshot() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Connection, 0, len(h.stations))
	for _, subs := range h.stations {
		for conn := range subs {
			conns = append(conns, conn)
		}
	}
	return conns
}
