package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batteryswap/backend/services/reservations-service/internal/models"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestEventPublisherNotify(t *testing.T) {
	pub := &fakePublisher{}
	stationID := uuid.New()
	event := models.ReservationEvent{
		Type:        models.EventReservationCreated,
		Reservation: models.Reservation{ID: uuid.New(), Code: "BK12345678ABCDEF", StationID: stationID},
		OccurredAt:  time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
	}

	require.NoError(t, NewEventPublisher(pub).Notify(context.Background(), event))
	assert.Equal(t, "reservations:events:"+stationID.String(), pub.channel)

	var decoded models.FeedEvent
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.Reservation.ID, decoded.Reservation.ID)
	assert.NotContains(t, string(pub.payload), event.Reservation.Code)
}

func TestEventPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	err := NewEventPublisher(&fakePublisher{err: boom}).Notify(context.Background(), models.ReservationEvent{})
	require.ErrorIs(t, err, boom)
}

func TestStationFromChannel(t *testing.T) {
	id, ok := stationFromChannel("reservations:events:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = stationFromChannel("sessions:active:abc")
	assert.False(t, ok)
	_, ok = stationFromChannel("reservations:events:")
	assert.False(t, ok)
}

func TestLockerAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	locker := NewLocker(client, time.Second, nil)
	key := "reservations:admission:test:" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}
