// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrUnavailable   = errors.New("temporarily unavailable")
)

// Mapping binds an error class to an RFC7807 status and title.
type Mapping struct {
	Err    error
	Status int
	Title  string
}

var defaultMappings = []Mapping{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrConflict, http.StatusConflict, "Conflict"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "Unprocessable Entity"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrUnavailable, http.StatusServiceUnavailable, "Service Unavailable"},
}

// RespondError maps errors to HTTP responses using RFC7807. Extra mappings
// are consulted before the defaults; unknown errors become a bare 500.
func RespondError(w http.ResponseWriter, err error, extra ...Mapping) {
	status, title := Classify(err, extra...)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}

// Classify returns the status and title RespondError would use.
func Classify(err error, extra ...Mapping) (int, string) {
	for _, set := range [][]Mapping{extra, defaultMappings} {
		for _, m := range set {
			if errors.Is(err, m.Err) {
				return m.Status, m.Title
			}
		}
	}
	return http.StatusInternalServerError, "Internal Error"
}
