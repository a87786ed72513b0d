package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/http/middleware"
	"batteryswap/backend/services/reservations-service/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type createReservationRequest struct {
	VehicleID    string     `json:"vehicle_id"`
	StationID    string     `json:"station_id"`
	BatteryModel string     `json:"battery_model"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	IsInstant    bool       `json:"is_instant"`
	Notes        string     `json:"notes"`
}

type updateReservationRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
	Notes       *string    `json:"notes"`
}

// ReservationHandlers serves the driver facing reservation API.
type ReservationHandlers struct {
	svc    *service.ReservationService
	logger *zap.Logger
}

// NewReservationHandlers returns handler struct.
func NewReservationHandlers(svc *service.ReservationService, logger *zap.Logger) *ReservationHandlers {
	return &ReservationHandlers{svc: svc, logger: logger}
}

// Create handles POST /api/reservations.
func (h *ReservationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	reservation, err := h.svc.CreateReservation(r.Context(), service.CreateInput{
		UserID:       userID,
		VehicleID:    req.VehicleID,
		StationID:    req.StationID,
		BatteryModel: req.BatteryModel,
		ScheduledAt:  req.ScheduledAt,
		IsInstant:    req.IsInstant,
		Notes:        req.Notes,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"reservation": reservation})
}

// List handles GET /api/reservations.
func (h *ReservationHandlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	reservations, err := h.svc.ListReservations(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": reservations})
}

// Get handles GET /api/reservations/{id}.
func (h *ReservationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	reservation, err := h.svc.GetReservation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservation": reservation})
}

// Update handles PATCH /api/reservations/{id}.
func (h *ReservationHandlers) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req updateReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	reservation, err := h.svc.UpdateReservation(r.Context(), service.UpdateInput{
		UserID:        userID,
		ReservationID: r.PathValue("id"),
		ScheduledAt:   req.ScheduledAt,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservation": reservation})
}

// Cancel handles POST /api/reservations/{id}/cancel.
func (h *ReservationHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	result, err := h.svc.CancelReservation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Availability handles GET /api/stations/{id}/availability.
func (h *ReservationHandlers) Availability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := service.AvailabilityRequest{
		StationID:    r.PathValue("id"),
		BatteryModel: query.Get("battery_model"),
	}
	if raw := strings.TrimSpace(query.Get("instant")); raw != "" {
		instant, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "instant must be a boolean")
			return
		}
		req.IsInstant = instant
	}
	if raw := strings.TrimSpace(query.Get("scheduled_at")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
			return
		}
		req.ScheduledAt = &at
	}

	decision, err := h.svc.CheckAvailability(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Confirm handles POST /internal/reservations/{id}/confirm.
func (h *ReservationHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.svc.ConfirmReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservation": reservation})
}

// Complete handles POST /internal/reservations/{id}/complete.
func (h *ReservationHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.svc.CompleteReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservation": reservation})
}
