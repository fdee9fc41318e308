package ingest

import (
	"fmt"
	"net/http"
)

// Error codes returned in the "error" field of failed upload responses.
const (
	CodeEmptyBody        = "empty_body"
	CodeInvalidJSON      = "invalid_json"
	CodeUnexpectedFormat = "unexpected_format"
	CodeBodyTooLarge     = "body_too_large"
	CodeWriteFailed      = "write_failed"
)

// Error is an ingestion failure carrying its wire code and HTTP status.
// Err, when set, provides the "detail" string.
type Error struct {
	Code   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Detail returns the underlying cause as text, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func errEmptyBody() *Error {
	return &Error{Code: CodeEmptyBody, Status: http.StatusBadRequest}
}

func errInvalidJSON(err error) *Error {
	return &Error{Code: CodeInvalidJSON, Status: http.StatusBadRequest, Err: err}
}

func errUnexpectedFormat() *Error {
	return &Error{Code: CodeUnexpectedFormat, Status: http.StatusBadRequest}
}

// ErrBodyTooLarge builds the error for bodies exceeding the configured limit.
func ErrBodyTooLarge(limit int64) *Error {
	return &Error{
		Code:   CodeBodyTooLarge,
		Status: http.StatusRequestEntityTooLarge,
		Err:    fmt.Errorf("request body exceeds %d bytes", limit),
	}
}

func errWriteFailed(err error) *Error {
	return &Error{Code: CodeWriteFailed, Status: http.StatusInternalServerError, Err: err}
}
