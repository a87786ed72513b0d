package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/models"
)

const channelPrefix = "reservations:events:"

// Channel returns the pub/sub channel of one station.
func Channel(stationID uuid.UUID) string {
	return channelPrefix + stationID.String()
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventPublisher sends reservation events to the station channel as JSON.
type EventPublisher struct {
	client publisher
}

// NewEventPublisher returns publisher backed by client.
func NewEventPublisher(client publisher) *EventPublisher {
	return &EventPublisher{client: client}
}

// Notify publishes the redacted event to the station channel.
func (p *EventPublisher) Notify(ctx context.Context, event models.ReservationEvent) error {
	data, err := json.Marshal(event.Feed())
	if err != nil {
		return err
	}
	channel := Channel(event.Reservation.StationID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// EventSubscriber relays every station channel to a local handler, so each instance can
// feed its own websocket clients.
type EventSubscriber struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewEventSubscriber returns a subscriber on client.
func NewEventSubscriber(client redis.UniversalClient, logger *zap.Logger) *EventSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSubscriber{client: client, logger: logger}
}

// Run blocks until ctx is done, calling handle with the station id and raw payload.
func (s *EventSubscriber) Run(ctx context.Context, handle func(stationID string, payload []byte)) error {
	sub := s.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", channelPrefix, err)
	}
	s.logger.Info("subscribed to reservation events", zap.String("pattern", channelPrefix+"*"))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			stationID, ok := stationFromChannel(msg.Channel)
			if !ok {
				s.logger.Warn("unexpected event channel", zap.String("channel", msg.Channel))
				continue
			}
			handle(stationID, []byte(msg.Payload))
		}
	}
}

func stationFromChannel(channel string) (string, bool) {
	id := strings.TrimPrefix(channel, channelPrefix)
	if id == channel || id == "" {
		return "", false
	}
	return id, true
}
