package api

import (
	"errors"
	"net/http"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/lease"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New(kindUnauthorized)
	ErrPermissionDenied = errors.New("permission denied")
)

// Error carries the failing operation and a sentinel kind alongside the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil && !errors.Is(e.Err, e.Kind):
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind tags err with kind and op.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap attaches op to err, keeping its kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// statusFor maps an error to its HTTP status and public error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, kindBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, kindUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, kindForbidden
	case errors.Is(err, lease.ErrBusy):
		return http.StatusConflict, kindBusy
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	default:
		return http.StatusInternalServerError, kindInternal
	}
}
