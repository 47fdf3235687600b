package order

import "ridecore/internal/apperr"

var (
	ErrNotFound          = apperr.NotFound("order")
	ErrConflict          = apperr.ErrConflict
	ErrNotOpen           = apperr.ErrOrderNotOpen
	ErrInvalidTransition = apperr.ErrInvalidTransition
	ErrActiveOrder       = apperr.Conflict("passenger has active order")
	ErrBadRequest        = apperr.ErrBadRequest
	ErrForbidden         = apperr.ErrForbidden
)
