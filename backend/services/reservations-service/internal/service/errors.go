package service

import (
	"errors"
	"fmt"
)

// Kind classifies service errors for callers.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Reason is a machine readable conflict cause.
type Reason string

const (
	ReasonNoSuchModel         Reason = "no_such_model"
	ReasonNoAvailability      Reason = "no_availability"
	ReasonModelMismatch       Reason = "model_mismatch"
	ReasonStationUnavailable  Reason = "station_unavailable"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonLateCancellation    Reason = "late_cancellation"
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonBusy                Reason = "busy"
)

// Error is returned by every ReservationService operation that fails.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("reservations: %s: %v", msg, e.Err)
	}
	return "reservations: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// ReasonOf returns the conflict reason carried by err, if any.
func ReasonOf(err error) Reason {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Reason
	}
	return ""
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func conflictError(reason Reason, message string, details map[string]any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message, Details: details}
}

func internalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op + " failed", Err: err}
}
