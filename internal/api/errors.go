package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/cancellation"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/circuitbreaker"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/fulfillment"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
)

// statusFor maps a domain error to its HTTP status. Anything unrecognised is
// a 500 and its message is not shown to the operator.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, store.ErrStaleWrite), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, true
	case errors.Is(err, cancellation.ErrCodeMismatch):
		return http.StatusUnauthorized, true
	case errors.Is(err, cancellation.ErrExpired),
		errors.Is(err, cancellation.ErrTooManyAttempts),
		errors.Is(err, cancellation.ErrNoRequest):
		return http.StatusGone, true
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrMissingRequiredField),
		errors.Is(err, lifecycle.ErrLocked),
		errors.Is(err, cancellation.ErrEmptyReason),
		errors.Is(err, cancellation.ErrNotCancellable),
		errors.Is(err, pricing.ErrInvalidItem),
		errors.Is(err, pricing.ErrInvalidPolicy),
		errors.Is(err, fulfillment.ErrUnknownService):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, lifecycle.ErrUnknownStatus):
		return http.StatusBadRequest, true
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, events.ErrDeliveryDisabled):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, false
	default:
		return http.StatusInternalServerError, false
	}
}
