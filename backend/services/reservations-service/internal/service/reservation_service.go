package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/metrics"
	"batteryswap/backend/services/reservations-service/internal/models"
	"batteryswap/backend/services/reservations-service/internal/repository"
)

const cancellationFeeReason = "cancellation_fee"

// ReservationService admits, edits and cancels battery reservations.
type ReservationService struct {
	store      repository.Store
	locker     Locker
	notifier   Notifier
	fees       FeePolicy
	policy     Policy
	calculator *Calculator
	codes      *CodeGenerator
	logger     *zap.Logger
	now        func() time.Time
	inflight   sync.WaitGroup
}

// CreateInput is a reservation request as received from the caller.
type CreateInput struct {
	UserID       uuid.UUID
	VehicleID    string
	StationID    string
	BatteryModel string
	// ScheduledAt is required for scheduled bookings and ignored for instant ones.
	ScheduledAt *time.Time
	IsInstant   bool
	Notes       string
}

// UpdateInput edits a pending reservation. Nil fields are left unchanged.
type UpdateInput struct {
	UserID        uuid.UUID
	ReservationID string
	ScheduledAt   *time.Time
	Notes         *string
}

// AvailabilityRequest is a read-only admission check.
type AvailabilityRequest struct {
	StationID    string
	BatteryModel string
	ScheduledAt  *time.Time
	IsInstant    bool
}

// CancelResult reports a committed cancellation.
type CancelResult struct {
	Reservation     *models.Reservation `json:"reservation"`
	CancellationFee int64               `json:"cancellation_fee"`
	// WalletBalance is set only when a fee was debited.
	WalletBalance *int64 `json:"wallet_balance,omitempty"`
}

// NewReservationService builds service. A nil locker falls back to an in-process
// KeyedMutex, a nil fee policy charges nothing and a nil notifier disables events.
func NewReservationService(
	store repository.Store,
	locker Locker,
	notifier Notifier,
	fees FeePolicy,
	policy Policy,
	logger *zap.Logger,
) *ReservationService {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if fees == nil {
		fees = FlatFeePolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.withDefaults()
	return &ReservationService{
		store:      store,
		locker:     locker,
		notifier:   notifier,
		fees:       fees,
		policy:     policy,
		calculator: NewCalculator(policy),
		codes:      NewCodeGenerator(time.Now),
		logger:     logger,
		now:        time.Now,
	}
}

// CreateReservation validates the request, runs admission and persists a pending
// reservation. The admission reads and the insert happen under the station/model lock
// and inside one transaction.
func (s *ReservationService) CreateReservation(ctx context.Context, in CreateInput) (*models.Reservation, error) {
	now := s.now().UTC()

	if in.UserID == uuid.Nil {
		return nil, validationError("user_id is required")
	}
	vehicleID, err := parseID("vehicle_id", in.VehicleID)
	if err != nil {
		return nil, err
	}
	stationID, err := parseID("station_id", in.StationID)
	if err != nil {
		return nil, err
	}
	model := models.NewBatteryModel(in.BatteryModel)
	if model.IsZero() {
		return nil, validationError("battery_model is required")
	}
	if err := s.validateNotes(in.Notes); err != nil {
		return nil, err
	}
	scheduledAt, err := s.resolveSchedule(in.ScheduledAt, in.IsInstant, now)
	if err != nil {
		return nil, err
	}

	vehicle, err := s.store.GetVehicle(ctx, vehicleID, in.UserID)
	if err != nil {
		return nil, s.lookupError("vehicle", "load vehicle", err)
	}
	if !model.Matches(vehicle.BatteryModel) {
		return nil, conflictError(ReasonModelMismatch,
			"vehicle requires battery model "+strings.TrimSpace(vehicle.BatteryModel),
			map[string]any{"vehicle_model": vehicle.BatteryModel, "requested_model": in.BatteryModel})
	}

	station, err := s.store.GetStation(ctx, stationID)
	if err != nil {
		return nil, s.lookupError("station", "load station", err)
	}
	if station.Status != models.StationActive {
		return nil, conflictError(ReasonStationUnavailable,
			"station is "+string(station.Status),
			map[string]any{"station_status": station.Status})
	}

	query := AvailabilityQuery{StationID: stationID, Model: model, ScheduledAt: scheduledAt, Instant: in.IsInstant}
	key := AdmissionKey(stationID, model)

	unlock, err := s.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		created  *models.Reservation
		decision Decision
	)
	err = s.store.WithinTx(ctx, key, func(tx repository.Tx) error {
		var err error
		decision, err = s.calculator.Evaluate(ctx, tx, query, now)
		if err != nil {
			return err
		}
		if !decision.Admitted {
			return decision.Err()
		}

		code, err := s.codes.unique(ctx, tx, in.IsInstant)
		if err != nil {
			return err
		}
		r := &models.Reservation{
			ID:           uuid.New(),
			Code:         code,
			UserID:       in.UserID,
			VehicleID:    vehicleID,
			StationID:    stationID,
			BatteryModel: strings.TrimSpace(in.BatteryModel),
			ScheduledAt:  scheduledAt,
			IsInstant:    in.IsInstant,
			Status:       models.ReservationPending,
			Notes:        strings.TrimSpace(in.Notes),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			metrics.ObserveAdmission(in.IsInstant, false, string(ReasonOf(err)))
			s.logger.Info("reservation rejected",
				zap.String("station_id", stationID.String()),
				zap.String("battery_model", model.String()),
				zap.Bool("instant", in.IsInstant),
				zap.String("reason", string(ReasonOf(err))),
				zap.Int("total_available", decision.TotalAvailable),
				zap.Int("reserved", decision.Reserved),
			)
			return nil, err
		}
		return nil, s.internal("create reservation", err, zap.String("station_id", stationID.String()))
	}

	metrics.ObserveAdmission(in.IsInstant, true, "")
	s.logger.Info("reservation admitted",
		zap.String("reservation_id", created.ID.String()),
		zap.String("code", created.Code),
		zap.String("station_id", stationID.String()),
		zap.String("battery_model", model.String()),
		zap.Time("scheduled_at", scheduledAt),
		zap.Int("headroom_before", decision.Headroom),
	)
	s.publish(models.EventReservationCreated, created, now)
	return created, nil
}

// CancelReservation cancels a pending or confirmed reservation owned by userID. The status
// change and any fee debit commit together or not at all.
func (s *ReservationService) CancelReservation(ctx context.Context, userID uuid.UUID, reservationID string) (*CancelResult, error) {
	now := s.now().UTC()
	id, err := parseID("reservation_id", reservationID)
	if err != nil {
		return nil, err
	}

	var result CancelResult
	err = s.store.WithinTx(ctx, "", func(tx repository.Tx) error {
		r, err := s.lockOwned(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if !r.Status.CanTransitionTo(models.ReservationCancelled) {
			return conflictError(ReasonInvalidTransition,
				"reservation is "+string(r.Status)+" and cannot be cancelled",
				map[string]any{"status": r.Status})
		}

		// Only slots that have not started yet are locked out.
		until := r.ScheduledAt.Sub(now)
		if until > 0 && until < s.policy.LateCancelWindow {
			return conflictError(ReasonLateCancellation,
				"reservation starts too soon to cancel online, please contact station staff",
				map[string]any{
					"minutes_until_scheduled": int(until / time.Minute),
					"lockout_minutes":         int(s.policy.LateCancelWindow / time.Minute),
				})
		}

		fee := s.fees.CancellationFee(r, now)
		r.Status = models.ReservationCancelled
		r.CancelledAt = &now
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}

		if fee > 0 {
			wallet, err := tx.EnsureWallet(ctx, userID)
			if err != nil {
				return err
			}
			if wallet.Balance < fee {
				return insufficientBalance(wallet.Balance, fee)
			}
			wallet, err = tx.DebitWallet(ctx, &models.WalletTransaction{
				UserID:        userID,
				ReservationID: r.ID,
				Amount:        fee,
				Reason:        cancellationFeeReason,
			})
			if err != nil {
				if errors.Is(err, repository.ErrInsufficientFunds) {
					return insufficientBalance(-1, fee)
				}
				return err
			}
			balance := wallet.Balance
			result.WalletBalance = &balance
		}

		result.Reservation = r
		result.CancellationFee = fee
		return nil
	})
	if err != nil {
		kind := KindOf(err)
		if kind != KindInternal {
			metrics.ObserveCancellation(false, string(ReasonOf(err)), 0)
			return nil, err
		}
		metrics.ObserveCancellation(false, "internal", 0)
		return nil, s.internal("cancel reservation", err, zap.String("reservation_id", id.String()))
	}

	metrics.ObserveCancellation(true, "", result.CancellationFee)
	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", id.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("cancellation_fee", result.CancellationFee),
	)
	s.publish(models.EventReservationCancelled, result.Reservation, now)
	return &result, nil
}

// UpdateReservation changes scheduled_at and/or notes of a pending reservation.
// Rescheduling re-runs admission only when Policy.ReadmitOnUpdate is set.
func (s *ReservationService) UpdateReservation(ctx context.Context, in UpdateInput) (*models.Reservation, error) {
	now := s.now().UTC()
	id, err := parseID("reservation_id", in.ReservationID)
	if err != nil {
		return nil, err
	}
	if in.ScheduledAt == nil && in.Notes == nil {
		return nil, validationError("nothing to update: provide scheduled_at or notes")
	}
	if in.Notes != nil {
		if err := s.validateNotes(*in.Notes); err != nil {
			return nil, err
		}
	}

	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, s.lookupError("reservation", "load reservation", err)
	}
	if current.UserID != in.UserID {
		return nil, notFoundError("reservation")
	}

	readmit := s.policy.ReadmitOnUpdate && in.ScheduledAt != nil
	key := ""
	if readmit {
		key = AdmissionKey(current.StationID, current.Model())
		unlock, err := s.acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var updated *models.Reservation
	err = s.store.WithinTx(ctx, key, func(tx repository.Tx) error {
		r, err := s.lockOwned(ctx, tx, id, in.UserID)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationPending {
			return conflictError(ReasonInvalidTransition,
				"only pending reservations can be updated, reservation is "+string(r.Status),
				map[string]any{"status": r.Status})
		}

		if in.ScheduledAt != nil {
			if r.IsInstant {
				return validationError("instant reservations cannot be rescheduled")
			}
			scheduledAt, err := s.resolveSchedule(in.ScheduledAt, false, now)
			if err != nil {
				return err
			}
			r.ScheduledAt = scheduledAt
			if readmit {
				decision, err := s.calculator.Evaluate(ctx, tx, AvailabilityQuery{
					StationID:   r.StationID,
					Model:       r.Model(),
					ScheduledAt: scheduledAt,
					Ignore:      r.ID,
				}, now)
				if err != nil {
					return err
				}
				if !decision.Admitted {
					return decision.Err()
				}
			}
		}
		if in.Notes != nil {
			r.Notes = strings.TrimSpace(*in.Notes)
		}
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		if KindOf(err) != KindInternal {
			return nil, err
		}
		return nil, s.internal("update reservation", err, zap.String("reservation_id", id.String()))
	}

	s.logger.Info("reservation updated",
		zap.String("reservation_id", id.String()),
		zap.Time("scheduled_at", updated.ScheduledAt),
		zap.Bool("readmitted", readmit),
	)
	s.publish(models.EventReservationUpdated, updated, now)
	return updated, nil
}

// ConfirmReservation moves a pending reservation to confirmed.
func (s *ReservationService) ConfirmReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.transition(ctx, reservationID, models.ReservationConfirmed, models.EventReservationConfirmed)
}

// CompleteReservation moves a confirmed reservation to completed after the swap.
func (s *ReservationService) CompleteReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.transition(ctx, reservationID, models.ReservationCompleted, models.EventReservationCompleted)
}

// GetReservation returns a reservation owned by userID.
func (s *ReservationService) GetReservation(ctx context.Context, userID uuid.UUID, reservationID string) (*models.Reservation, error) {
	id, err := parseID("reservation_id", reservationID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, s.lookupError("reservation", "load reservation", err)
	}
	if r.UserID != userID {
		return nil, notFoundError("reservation")
	}
	return r, nil
}

// ListReservations returns the latest reservations of userID.
func (s *ReservationService) ListReservations(ctx context.Context, userID uuid.UUID, limit int) ([]models.Reservation, error) {
	reservations, err := s.store.ListUserReservations(ctx, userID, limit)
	if err != nil {
		return nil, s.internal("list reservations", err, zap.String("user_id", userID.String()))
	}
	return reservations, nil
}

// CheckAvailability runs admission without writing anything. Rejections are reported in
// the returned Decision, not as errors.
func (s *ReservationService) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*Decision, error) {
	now := s.now().UTC()
	stationID, err := parseID("station_id", req.StationID)
	if err != nil {
		return nil, err
	}
	model := models.NewBatteryModel(req.BatteryModel)
	if model.IsZero() {
		return nil, validationError("battery_model is required")
	}
	scheduledAt, err := s.resolveSchedule(req.ScheduledAt, req.IsInstant, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetStation(ctx, stationID); err != nil {
		return nil, s.lookupError("station", "load station", err)
	}

	decision, err := s.calculator.Evaluate(ctx, s.store, AvailabilityQuery{
		StationID:   stationID,
		Model:       model,
		ScheduledAt: scheduledAt,
		Instant:     req.IsInstant,
	}, now)
	if err != nil {
		return nil, s.internal("check availability", err, zap.String("station_id", stationID.String()))
	}
	return &decision, nil
}

// Wait blocks until in-flight notifications finish.
func (s *ReservationService) Wait() {
	s.inflight.Wait()
}

func (s *ReservationService) transition(ctx context.Context, reservationID string, next models.ReservationStatus, event models.ReservationEventType) (*models.Reservation, error) {
	now := s.now().UTC()
	id, err := parseID("reservation_id", reservationID)
	if err != nil {
		return nil, err
	}

	var updated *models.Reservation
	err = s.store.WithinTx(ctx, "", func(tx repository.Tx) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundError("reservation")
			}
			return err
		}
		if !r.Status.CanTransitionTo(next) {
			return conflictError(ReasonInvalidTransition,
				"reservation is "+string(r.Status)+" and cannot become "+string(next),
				map[string]any{"status": r.Status, "requested": next})
		}
		r.Status = next
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		if KindOf(err) != KindInternal {
			return nil, err
		}
		return nil, s.internal("transition reservation", err,
			zap.String("reservation_id", id.String()),
			zap.String("next_status", string(next)),
		)
	}

	s.logger.Info("reservation status changed",
		zap.String("reservation_id", id.String()),
		zap.String("status", string(next)),
	)
	s.publish(event, updated, now)
	return updated, nil
}

func (s *ReservationService) lockOwned(ctx context.Context, tx repository.Tx, id, userID uuid.UUID) (*models.Reservation, error) {
	r, err := tx.LockReservation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("reservation")
		}
		return nil, err
	}
	if r.UserID != userID {
		return nil, notFoundError("reservation")
	}
	return r, nil
}

func (s *ReservationService) acquire(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.policy.LockTimeout)
	defer cancel()

	started := time.Now()
	unlock, err := s.locker.Lock(lockCtx, key)
	metrics.ObserveLockWait(time.Since(started))
	if err != nil {
		// Our own deadline expiring means contention; the caller giving up is not ours to report.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.logger.Warn("admission lock busy", zap.String("lock_key", key), zap.Duration("timeout", s.policy.LockTimeout))
			return nil, &Error{
				Kind:    KindConflict,
				Reason:  ReasonBusy,
				Message: "station is busy, please retry",
				Details: map[string]any{"lock_timeout_ms": s.policy.LockTimeout.Milliseconds()},
				Err:     err,
			}
		}
		return nil, s.internal("acquire admission lock", err, zap.String("lock_key", key))
	}
	return unlock, nil
}

// resolveSchedule returns the pickup time: now+InstantWindow for instant bookings, the
// validated requested time otherwise.
func (s *ReservationService) resolveSchedule(requested *time.Time, instant bool, now time.Time) (time.Time, error) {
	if instant {
		return now.Add(s.policy.InstantWindow), nil
	}
	if requested == nil || requested.IsZero() {
		return time.Time{}, validationError("scheduled_at is required for scheduled reservations")
	}
	at := requested.UTC()
	lead := at.Sub(now)
	if lead <= 0 {
		return time.Time{}, validationError("scheduled_at must be in the future")
	}
	if lead < s.policy.MinLeadTime {
		return time.Time{}, validationError("scheduled_at must be at least %s ahead", s.policy.MinLeadTime)
	}
	if lead > s.policy.MaxLeadTime {
		return time.Time{}, validationError("scheduled_at must be at most %s ahead", s.policy.MaxLeadTime)
	}
	return at, nil
}

func (s *ReservationService) validateNotes(notes string) error {
	if len(strings.TrimSpace(notes)) > s.policy.MaxNotesLength {
		return validationError("notes must be at most %d characters", s.policy.MaxNotesLength)
	}
	return nil
}

func (s *ReservationService) lookupError(what, op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError(what)
	}
	return s.internal(op, err)
}

func (s *ReservationService) internal(op string, err error, fields ...zap.Field) error {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Kind == KindInternal {
		return svcErr
	}
	s.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	return internalError(op, err)
}

func (s *ReservationService) publish(eventType models.ReservationEventType, r *models.Reservation, at time.Time) {
	if s.notifier == nil || r == nil {
		return
	}
	event := models.ReservationEvent{Type: eventType, Reservation: *r, OccurredAt: at}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.policy.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, event); err != nil {
			metrics.NotificationFailed()
			s.logger.Warn("failed to deliver reservation event",
				zap.String("event", string(eventType)),
				zap.String("reservation_id", r.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

func insufficientBalance(balance, fee int64) error {
	details := map[string]any{"cancellation_fee": fee}
	if balance >= 0 {
		details["wallet_balance"] = balance
	}
	return conflictError(ReasonInsufficientBalance, "wallet balance is too low for the cancellation fee", details)
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, validationError("%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, validationError("%s has an invalid format", field)
	}
	return id, nil
}
