package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	libdb "batteryswap/backend/libs/db"
	"batteryswap/backend/services/reservations-service/internal/models"
)

const uniqueViolation = "23505"

const reservationColumns = `
	id, code, user_id, vehicle_id, station_id, battery_model, scheduled_at,
	is_instant, status, notes, created_at, updated_at, cancelled_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore persists reservations in Postgres through database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns repository.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListBatteries returns every battery at the station.
func (s *PostgresStore) ListBatteries(ctx context.Context, stationID uuid.UUID) ([]models.Battery, error) {
	return listBatteries(ctx, s.db, stationID)
}

// ListReservations returns reservations matching q.
func (s *PostgresStore) ListReservations(ctx context.Context, q ReservationQuery) ([]models.Reservation, error) {
	return listReservations(ctx, s.db, q)
}

// GetStation fetches a station by id.
func (s *PostgresStore) GetStation(ctx context.Context, id uuid.UUID) (*models.Station, error) {
	const query = `
		SELECT id, name, address, capacity, status
		FROM stations
		WHERE id = $1
	`
	var st models.Station
	err := s.db.QueryRowContext(ctx, query, id).Scan(&st.ID, &st.Name, &st.Address, &st.Capacity, &st.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get station: %w", err)
	}
	return &st, nil
}

// GetVehicle fetches a vehicle owned by ownerID.
func (s *PostgresStore) GetVehicle(ctx context.Context, id, ownerID uuid.UUID) (*models.Vehicle, error) {
	const query = `
		SELECT id, owner_id, battery_model
		FROM vehicles
		WHERE id = $1 AND owner_id = $2
	`
	var v models.Vehicle
	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(&v.ID, &v.OwnerID, &v.BatteryModel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return &v, nil
}

// GetReservation fetches a reservation by id.
func (s *PostgresStore) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	return scanReservation(s.db.QueryRowContext(ctx, query, id))
}

// ListUserReservations returns the latest reservations of a user.
func (s *PostgresStore) ListUserReservations(ctx context.Context, userID uuid.UUID, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user reservations: %w", err)
	}
	return collectReservations(rows)
}

// GetWallet returns the wallet of a user.
func (s *PostgresStore) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	const query = `
		SELECT user_id, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`
	return scanWallet(s.db.QueryRowContext(ctx, query, userID))
}

// WithinTx runs fn in a read-committed transaction. With a lockKey the transaction first
// takes a transaction-scoped advisory lock derived from the key, so every admission for
// the same station and model is serialized at the database.
func (s *PostgresStore) WithinTx(ctx context.Context, lockKey string, fn func(tx Tx) error) error {
	return libdb.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		if lockKey != "" {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
				return fmt.Errorf("advisory lock %q: %w", lockKey, err)
			}
		}
		return fn(&postgresTx{tx: tx})
	})
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) ListBatteries(ctx context.Context, stationID uuid.UUID) ([]models.Battery, error) {
	return listBatteries(ctx, t.tx, stationID)
}

func (t *postgresTx) ListReservations(ctx context.Context, q ReservationQuery) ([]models.Reservation, error) {
	return listReservations(ctx, t.tx, q)
}

func (t *postgresTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	const query = `
		INSERT INTO reservations (id, code, user_id, vehicle_id, station_id, battery_model, scheduled_at,
			is_instant, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.tx.ExecContext(ctx, query,
		r.ID,
		r.Code,
		r.UserID,
		r.VehicleID,
		r.StationID,
		r.BatteryModel,
		r.ScheduledAt.UTC(),
		r.IsInstant,
		string(r.Status),
		r.Notes,
		r.CreatedAt.UTC(),
		r.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *postgresTx) LockReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`
	return scanReservation(t.tx.QueryRowContext(ctx, query, id))
}

func (t *postgresTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	const query = `
		UPDATE reservations
		SET scheduled_at = $2,
		    status = $3,
		    notes = $4,
		    updated_at = $5,
		    cancelled_at = $6
		WHERE id = $1
	`
	var cancelledAt sql.NullTime
	if r.CancelledAt != nil {
		cancelledAt = sql.NullTime{Time: r.CancelledAt.UTC(), Valid: true}
	}
	result, err := t.tx.ExecContext(ctx, query, r.ID, r.ScheduledAt.UTC(), string(r.Status), r.Notes, r.UpdatedAt.UTC(), cancelledAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	const insert = `
		INSERT INTO wallets (user_id, balance, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := t.tx.ExecContext(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	const query = `
		SELECT user_id, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`
	return scanWallet(t.tx.QueryRowContext(ctx, query, userID))
}

func (t *postgresTx) DebitWallet(ctx context.Context, entry *models.WalletTransaction) (*models.Wallet, error) {
	const debit = `
		UPDATE wallets
		SET balance = balance - $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING user_id, balance, created_at, updated_at
	`
	wallet, err := scanWallet(t.tx.QueryRowContext(ctx, debit, entry.UserID, entry.Amount))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}

	const ledger = `
		INSERT INTO wallet_transactions (user_id, reservation_id, amount, balance_after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	entry.BalanceAfter = wallet.Balance
	err = t.tx.QueryRowContext(ctx, ledger, entry.UserID, entry.ReservationID, entry.Amount, entry.BalanceAfter, entry.Reason).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return wallet, nil
}

func listBatteries(ctx context.Context, q queryer, stationID uuid.UUID) ([]models.Battery, error) {
	const query = `
		SELECT id, station_id, model, status, charge_level, updated_at
		FROM batteries
		WHERE station_id = $1
	`
	rows, err := q.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, fmt.Errorf("list batteries: %w", err)
	}
	defer rows.Close()

	var batteries []models.Battery
	for rows.Next() {
		var b models.Battery
		if err := rows.Scan(&b.ID, &b.StationID, &b.Model, &b.Status, &b.ChargeLevel, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batteries = append(batteries, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batteries, nil
}

func listReservations(ctx context.Context, q queryer, rq ReservationQuery) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE station_id = $1
		  AND scheduled_at BETWEEN $2 AND $3
		  AND status = ANY($4)
		  AND (NOT $5 OR is_instant)`
	statuses := rq.Statuses
	if len(statuses) == 0 {
		statuses = []models.ReservationStatus{
			models.ReservationPending,
			models.ReservationConfirmed,
			models.ReservationCompleted,
			models.ReservationCancelled,
		}
	}
	rows, err := q.QueryContext(ctx, query, rq.StationID, rq.From.UTC(), rq.To.UTC(), statusStrings(statuses), rq.InstantOnly)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return collectReservations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservationRow(row rowScanner) (*models.Reservation, error) {
	var (
		r           models.Reservation
		cancelledAt sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.Code,
		&r.UserID,
		&r.VehicleID,
		&r.StationID,
		&r.BatteryModel,
		&r.ScheduledAt,
		&r.IsInstant,
		&r.Status,
		&r.Notes,
		&r.CreatedAt,
		&r.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time
		r.CancelledAt = &ts
	}
	return &r, nil
}

func scanReservation(row *sql.Row) (*models.Reservation, error) {
	r, err := scanReservationRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return r, nil
}

func collectReservations(rows *sql.Rows) ([]models.Reservation, error) {
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		r, err := scanReservationRow(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}
