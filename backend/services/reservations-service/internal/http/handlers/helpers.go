package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/service"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps service error kinds onto HTTP statuses. Internal details are
// logged, never returned.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		logger.Error("unclassified service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch svcErr.Kind {
	case service.KindValidation:
		writeError(w, http.StatusBadRequest, svcErr.Message)
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, svcErr.Message)
	case service.KindConflict:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   svcErr.Message,
			Reason:  string(svcErr.Reason),
			Details: svcErr.Details,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, dst)
}
