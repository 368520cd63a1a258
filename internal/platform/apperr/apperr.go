// Package apperr defines the error kinds shared by the domain services and the
// mapping from those kinds to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// PostgreSQL SQLSTATE codes that map onto application kinds.
const (
	PgErrUniqueViolation     = "23505"
	PgErrForeignKeyViolation = "23503"
	PgErrNotNullViolation    = "23502"
	PgErrInvalidTextRep      = "22P02"
)

// Error carries a kind plus the operation that produced it. Count is set for
// conflicts caused by dependent rows (e.g. test results still referencing an item).
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Count int
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

func Validation(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a blocked operation; count is the number of blocking rows.
func Conflict(op string, count int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Count: count, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with op. Errors that already carry a kind keep it;
// database errors are classified by FromPG; everything else becomes internal.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if pe := FromPG(op, err); pe != nil {
		return pe
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// FromPG classifies pgx errors. It returns nil when err is not a recognised
// database condition.
func FromPG(op string, err error) *Error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Op: op, Msg: "record not found", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrUniqueViolation:
			return &Error{Kind: KindConflict, Op: op, Msg: "duplicate value violates " + pgErr.ConstraintName, Err: err}
		case PgErrForeignKeyViolation:
			return &Error{Kind: KindConflict, Op: op, Msg: "referenced row is missing or still referenced (" + pgErr.ConstraintName + ")", Err: err}
		case PgErrNotNullViolation, PgErrInvalidTextRep:
			return &Error{Kind: KindValidation, Op: op, Msg: pgErr.Message, Err: err}
		}
	}
	return nil
}

// KindOf returns the kind of err, defaulting to internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Body is the JSON error envelope returned by every handler.
type Body struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    Kind   `json:"kind"`
	Count   *int   `json:"count,omitempty"`
}

// HTTPError converts err into an echo.HTTPError with a Body payload.
// Internal errors hide their cause from the client.
func HTTPError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	body := Body{Error: err.Error(), Kind: KindOf(err)}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindConflict && ae.Count > 0 {
		n := ae.Count
		body.Count = &n
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
	}
	return echo.NewHTTPError(status, body).SetInternal(err)
}
