package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libdb "batteryswap/backend/libs/db"
	"batteryswap/backend/services/reservations-service/internal/models"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS stations (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	capacity INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active'
);
CREATE TABLE IF NOT EXISTS vehicles (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	battery_model TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batteries (
	id UUID PRIMARY KEY,
	station_id UUID NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL,
	charge_level INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	user_id UUID NOT NULL,
	vehicle_id UUID NOT NULL,
	station_id UUID NOT NULL,
	battery_model TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	is_instant BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	cancelled_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS wallets (
	user_id UUID PRIMARY KEY,
	balance BIGINT NOT NULL CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_transactions (
	id BIGSERIAL PRIMARY KEY,
	user_id UUID NOT NULL,
	reservation_id UUID NOT NULL,
	amount BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("RESERVATIONS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RESERVATIONS_TEST_POSTGRES_DSN not set")
	}
	db, err := libdb.NewPostgresDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestPostgresStoreAdmissionQueries(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	stationID := uuid.New()
	base := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO batteries (id, station_id, model, status, charge_level) VALUES ($1, $2, 'G2', 'full', 100)`,
		uuid.New(), stationID)
	require.NoError(t, err)

	err = store.WithinTx(ctx, "reservations:admission:"+stationID.String()+":g2", func(tx Tx) error {
		batteries, err := tx.ListBatteries(ctx, stationID)
		require.NoError(t, err)
		require.Len(t, batteries, 1)

		for i, offset := range []time.Duration{-30 * time.Minute, 30 * time.Minute, 31 * time.Minute} {
			require.NoError(t, tx.InsertReservation(ctx, &models.Reservation{
				ID:           uuid.New(),
				Code:         "T" + uuid.NewString()[:12],
				UserID:       uuid.New(),
				VehicleID:    uuid.New(),
				StationID:    stationID,
				BatteryModel: "G2",
				ScheduledAt:  base.Add(offset),
				IsInstant:    i == 1,
				Status:       models.ReservationPending,
				CreatedAt:    base,
				UpdatedAt:    base,
			}))
		}
		return nil
	})
	require.NoError(t, err)

	got, err := store.ListReservations(ctx, ReservationQuery{
		StationID: stationID,
		From:      base.Add(-30 * time.Minute),
		To:        base.Add(30 * time.Minute),
		Statuses:  models.HoldingStatuses(),
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.ListReservations(ctx, ReservationQuery{
		StationID:   stationID,
		From:        base.Add(-30 * time.Minute),
		To:          base.Add(30 * time.Minute),
		Statuses:    models.HoldingStatuses(),
		InstantOnly: true,
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPostgresStoreDuplicateCodeAndDebit(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()
	code := "D" + uuid.NewString()[:12]

	r := &models.Reservation{
		ID: uuid.New(), Code: code, UserID: userID, VehicleID: uuid.New(), StationID: uuid.New(),
		BatteryModel: "G2", ScheduledAt: now.Add(time.Hour), Status: models.ReservationPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.WithinTx(ctx, "", func(tx Tx) error { return tx.InsertReservation(ctx, r) }))

	dup := *r
	dup.ID = uuid.New()
	err := store.WithinTx(ctx, "", func(tx Tx) error { return tx.InsertReservation(ctx, &dup) })
	require.ErrorIs(t, err, ErrDuplicateCode)

	err = store.WithinTx(ctx, "", func(tx Tx) error {
		w, err := tx.EnsureWallet(ctx, userID)
		require.NoError(t, err)
		assert.Zero(t, w.Balance)
		_, err = tx.DebitWallet(ctx, &models.WalletTransaction{UserID: userID, ReservationID: r.ID, Amount: 10, Reason: "cancellation_fee"})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = store.GetWallet(ctx, userID)
	require.ErrorIs(t, err, ErrNotFound)
}

var errNoHeadroom = errors.New("no headroom")

func TestPostgresStoreSerializesConcurrentAdmissions(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	stationID := uuid.New()
	slot := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	key := "reservations:admission:" + stationID.String() + ":g2"

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO batteries (id, station_id, model, status, charge_level) VALUES ($1, $2, 'G2', 'full', 100)`,
		uuid.New(), stationID)
	require.NoError(t, err)

	// Each attempt reads, pauses, then inserts; only the advisory lock keeps them apart.
	admit := func() error {
		return store.WithinTx(ctx, key, func(tx Tx) error {
			batteries, err := tx.ListBatteries(ctx, stationID)
			if err != nil {
				return err
			}
			held, err := tx.ListReservations(ctx, ReservationQuery{
				StationID: stationID,
				From:      slot.Add(-30 * time.Minute),
				To:        slot.Add(30 * time.Minute),
				Statuses:  models.HoldingStatuses(),
			})
			if err != nil {
				return err
			}
			if len(batteries)-len(held) < 1 {
				return errNoHeadroom
			}
			time.Sleep(20 * time.Millisecond)
			return tx.InsertReservation(ctx, &models.Reservation{
				ID:           uuid.New(),
				Code:         "C" + uuid.NewString()[:12],
				UserID:       uuid.New(),
				VehicleID:    uuid.New(),
				StationID:    stationID,
				BatteryModel: "G2",
				ScheduledAt:  slot,
				Status:       models.ReservationPending,
				CreatedAt:    slot,
				UpdatedAt:    slot,
			})
		})
	}

	const attempts = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := admit()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, errNoHeadroom):
				rejected++
			default:
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, 1, admitted)
	assert.Equal(t, attempts-1, rejected)

	var stored int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE station_id = $1`, stationID).Scan(&stored))
	assert.Equal(t, 1, stored)
}
