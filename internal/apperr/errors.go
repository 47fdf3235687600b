// README: Error taxonomy shared by every module; match with errors.Is against the sentinels.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflict")
	ErrOrderNotOpen      = errors.New("order not open")
	ErrInvalidState      = errors.New("invalid state")
	ErrDecode            = errors.New("decode failure")
	ErrBadRequest        = errors.New("bad request")
)

func Forbidden(reason string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}

func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

func Conflict(reason string) error {
	return fmt.Errorf("%w: %s", ErrConflict, reason)
}

func InvalidState(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, reason)
}

func BadRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, reason)
}

func Decode(err error) error {
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UnderlyingError wraps a transport or storage failure that has no domain meaning.
type UnderlyingError struct {
	Err error
}

func (e *UnderlyingError) Error() string { return "underlying: " + e.Err.Error() }

func (e *UnderlyingError) Unwrap() error { return e.Err }

// Underlying wraps err unless it already belongs to the taxonomy.
func Underlying(err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	var u *UnderlyingError
	if errors.As(err, &u) {
		return err
	}
	return &UnderlyingError{Err: err}
}

// IsDomain reports whether err matches one of the taxonomy sentinels.
func IsDomain(err error) bool {
	for _, s := range []error{
		ErrNotAuthenticated, ErrForbidden, ErrNotFound, ErrInvalidTransition,
		ErrConflict, ErrOrderNotOpen, ErrInvalidState, ErrDecode, ErrBadRequest,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
